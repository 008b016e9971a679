package relay

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/notepid/relaybot/internal/apperr"
)

const (
	textBlocked        = "You have been blocked from using this bot."
	textDelivered      = "Your message has been sent to admin. Please wait for a response."
	textUndelivered    = "Sorry, couldn't deliver your message. Please try again later."
	textNotUnderstood  = "Sorry, I didn't understand that. Send /help to see what I can do."
	textInternalError  = "Something went wrong on our side. Please try again later."
	textUnauthorized   = "You don't have permission to use this command."
	textFiltered       = "Your message was not delivered because it violates the chat rules."
	textUnresolved     = "Could not find the conversation this reply belongs to. Use the Reply button on a forwarded message."
	textUserNotFound   = "User not found."
	textAlreadyAdmin   = "User is already an admin."
	textNotAdmin       = "That user is not an admin."
	textLastAdmin      = "Cannot remove the last admin."
	textNoPendingState = "Nothing to cancel."
	textCancelled      = "Cancelled."
	textSendHint       = "Just type your message and I'll forward it to the admin team!"
)

const userHelp = `How to use this bot:

1. Simply type your message to contact admin
2. Wait for admin to reply
3. You'll receive responses directly here

Commands:
/start - Start the bot
/help - Show this help message
/about - About this bot`

const adminHelp = `

Admin commands:
/stats - Dashboard
/users - List users
/broadcast - Message all users
/history <user_id> - Message history
/block <user_id>, /unblock <user_id>
/addadmin <user_id>, /removeadmin <user_id>
/online - Connected users
/settings - Current limits
/cancel - Abort a pending reply or broadcast

Use the Reply, Block and History buttons under forwarded messages.`

// responseFor maps a recoverable error to the message shown to the sender.
func responseFor(err error) string {
	var te *apperr.ThrottleError
	switch {
	case errors.As(err, &te):
		secs := int(math.Ceil(te.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		return "Please slow down! Wait " + strconv.Itoa(secs) + " seconds before sending another message."
	case errors.Is(err, apperr.ErrUnauthorized):
		return textUnauthorized
	case errors.Is(err, apperr.ErrUnresolvedThread):
		return textUnresolved
	case errors.Is(err, apperr.ErrNotFound):
		return textUserNotFound
	case errors.Is(err, apperr.ErrAlreadyAdmin):
		return textAlreadyAdmin
	case errors.Is(err, apperr.ErrNotAdmin):
		return textNotAdmin
	case errors.Is(err, apperr.ErrLastAdmin):
		return textLastAdmin
	default:
		return textNotUnderstood
	}
}

// userMenu maps the reply-keyboard labels of the user menu to commands.
func userMenu(text string) (string, bool) {
	switch strings.TrimSpace(text) {
	case "Send Message to Admin":
		return "/send", true
	case "Help":
		return "/help", true
	case "About":
		return "/about", true
	}
	return "", false
}

// adminMenu maps the reply-keyboard labels of the admin menu to commands.
func adminMenu(text string) (string, bool) {
	switch strings.TrimSpace(text) {
	case "Dashboard":
		return "/stats", true
	case "Users":
		return "/users", true
	case "Broadcast":
		return "/broadcast", true
	case "Logs":
		return "/logs", true
	case "Add Admin":
		return "/admins", true
	case "Settings":
		return "/settings", true
	case "Help":
		return "/help", true
	}
	return "", false
}
