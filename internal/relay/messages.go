package relay

import (
	"fmt"
	"strings"

	"github.com/infodancer/relayd/internal/dispatch"
	"github.com/infodancer/relayd/internal/identity"
)

// Replies sent back to the requesting identity.
const (
	msgWelcome     = "Welcome! Your access is being verified."
	msgNotApproved = "You are not approved to use this bot. Please contact the admin."
	msgApproved    = "You are approved to use this bot."

	msgApproveDenied = "You are not authorized to approve users."
	msgRemoveDenied  = "You are not authorized to remove users."
	msgUploadDenied  = "You are not authorized to upload files."
	msgSendDenied    = "You are not authorized to send messages."
	msgInspectDenied = "You are not authorized to view this."

	msgUploadFailed  = "There was an error downloading the file."
	msgUploadTooBig  = "The file is too large."
	msgNoList        = "No recipient list uploaded yet. Upload a .txt file with one number per line first."
	msgEmptyMessage  = "Usage: /send <message>"
	msgBusy          = "A dispatch is already in progress. Try again when it finishes."
	msgScreened      = "The message was refused by content screening."
	msgScreenFailed  = "Content screening is unavailable. The message was not sent."
	msgDispatchError = "The dispatch could not be started."
	msgUnknown       = "Unknown command. Send /help for the list of commands."
	msgPersistFailed = "The change is active but could not be saved; it will be lost on restart."
)

const helpText = `Commands:
/start - check your approval status
/send <message> - send <message> to every number in the uploaded list
/status - show the current list and dispatch state
Upload a .txt file with one number per line to set the recipient list.

Admin commands:
/approve <id> - approve an identity
/remove <id> - remove an identity
/users - list approved identities`

func usage(command string) string {
	return fmt.Sprintf("Usage: /%s <id>", command)
}

func approvedText(id identity.Identity, added bool) string {
	if !added {
		return fmt.Sprintf("User %s is already approved.", id)
	}
	return fmt.Sprintf("User %s has been approved.", id)
}

func removedText(id identity.Identity, removed bool) string {
	if !removed {
		return fmt.Sprintf("User %s was not approved.", id)
	}
	return fmt.Sprintf("User %s has been removed.", id)
}

func uploadedText(n int) string {
	return fmt.Sprintf("File received with %d recipients. Use the command /send <message> to send bulk SMS.", n)
}

func startedText(n int) string {
	return fmt.Sprintf("Sending to %d recipients...", n)
}

func progressText(p dispatch.Progress) string {
	return fmt.Sprintf("Progress: %d/%d sent (%d failed).", p.Done, p.Total, p.Failed)
}

func finishedText(r dispatch.Result) string {
	return fmt.Sprintf("Dispatch finished: %d attempted, %d succeeded, %d failed.", r.Attempted, r.Succeeded, r.Failed)
}

func canceledText(r dispatch.Result) string {
	return fmt.Sprintf("Dispatch stopped early: %d attempted, %d succeeded, %d failed.", r.Attempted, r.Succeeded, r.Failed)
}

func usersText(ids []identity.Identity) string {
	if len(ids) == 0 {
		return "No approved users."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Approved users (%d):", len(ids))
	for _, id := range ids {
		b.WriteString("\n")
		b.WriteString(id.String())
	}
	return b.String()
}

func statusText(listLen int, hasList bool, holder string) string {
	var b strings.Builder
	if hasList {
		fmt.Fprintf(&b, "Recipient list: %d addresses.", listLen)
	} else {
		b.WriteString("Recipient list: none uploaded.")
	}
	if holder != "" {
		fmt.Fprintf(&b, "\nDispatch: in progress (job %s).", holder)
	} else {
		b.WriteString("\nDispatch: idle.")
	}
	return b.String()
}
