package orchestrator

import (
	"fmt"

	"github.com/ClareAI/astra-comms-core/internal/domain"
)

// phrase templates per language. Script copy for production deployments is
// owned by a localization collaborator; these are the built-in fallbacks.
// Order-specific values are substituted from the session data.
var phraseTemplates = map[string]map[string]string{
	"en": {
		"vendor_new_order.greeting":             "Namaste. You have a new order worth %s with %s. ",
		"vendor_new_order.accept_reject":        "Press 1 to accept the order, press 2 to reject.",
		"vendor_new_order.prep_minutes":         "How many minutes to prepare? Press 1 for fifteen, 2 for thirty, 3 for forty five.",
		"vendor_new_order.reject_reason":        "Please tell us the reason for rejecting after the beep, then press hash.",
		"vendor_new_order.close_accepted":       "Thank you, the order is confirmed. Goodbye.",
		"vendor_new_order.close_rejected":       "Understood, the order has been rejected. Goodbye.",
		"vendor_reminder.greeting":              "Reminder: an order is waiting to be prepared.",
		"vendor_reminder.ready_extend":          "Press 1 if the order is ready, press 2 to add ten more minutes.",
		"vendor_reminder.close_ready":           "Marked ready. The rider is on the way. Goodbye.",
		"vendor_reminder.close_extended":        "Ten more minutes added. Goodbye.",
		"rider_assign.greeting":                 "You have a new delivery assignment nearby.",
		"rider_assign.accept_reject":            "Press 1 to accept the delivery, press 2 to reject.",
		"rider_assign.close_accepted":           "Assignment accepted. Pickup details sent to your app. Goodbye.",
		"rider_assign.close_rejected":           "Assignment rejected. Goodbye.",
		"rider_address_update.greeting":         "The delivery address for your current order has changed.",
		"rider_address_update.confirm_escalate": "Press 1 to confirm the new address, press 2 to talk to support.",
		"rider_address_update.close_confirmed":  "Address confirmed. Goodbye.",
		"rider_address_update.close_escalated":  "Connecting you to support shortly. Goodbye.",
		"inbound_customer.greeting":             "Welcome to delivery support.",
		"inbound_customer.how_can_i_help":       "How can I help you today?",
		"common.invalid_try_again":              "Sorry, that was not a valid choice. Please try again.",
		"common.goodbye":                        "Thank you for calling. Goodbye.",
		"common.apology":                        "Sorry, we are unable to continue right now. Please try again later.",
	},
	"hi": {
		"vendor_new_order.greeting":             "Namaste. Aapke paas %s ka naya order hai, %s se. ",
		"vendor_new_order.accept_reject":        "Order sweekar karne ke liye 1 dabayein, asweekar ke liye 2.",
		"vendor_new_order.prep_minutes":         "Kitne minute lagenge? Pandrah ke liye 1, tees ke liye 2, paintalees ke liye 3 dabayein.",
		"vendor_new_order.reject_reason":        "Beep ke baad asweekar ka kaaran batayein, phir hash dabayein.",
		"vendor_new_order.close_accepted":       "Dhanyavaad, order confirm ho gaya. Namaste.",
		"vendor_new_order.close_rejected":       "Theek hai, order asweekar kar diya gaya. Namaste.",
		"vendor_reminder.greeting":              "Yaad dilana: ek order taiyaar hona baaki hai.",
		"vendor_reminder.ready_extend":          "Order taiyaar hai to 1 dabayein, dus minute aur chahiye to 2.",
		"vendor_reminder.close_ready":           "Taiyaar mark kar diya. Rider raaste mein hai. Namaste.",
		"vendor_reminder.close_extended":        "Dus minute aur jod diye gaye. Namaste.",
		"rider_assign.greeting":                 "Aapke paas paas mein ek nayi delivery hai.",
		"rider_assign.accept_reject":            "Delivery lene ke liye 1 dabayein, mana karne ke liye 2.",
		"rider_assign.close_accepted":           "Delivery sweekar ho gayi. Pickup ki jaankari app par bheji gayi hai. Namaste.",
		"rider_assign.close_rejected":           "Delivery asweekar ho gayi. Namaste.",
		"rider_address_update.greeting":         "Aapke current order ka delivery pata badal gaya hai.",
		"rider_address_update.confirm_escalate": "Naya pata confirm karne ke liye 1 dabayein, support se baat karne ke liye 2.",
		"rider_address_update.close_confirmed":  "Pata confirm ho gaya. Namaste.",
		"rider_address_update.close_escalated":  "Aapko jald hi support se joda jayega. Namaste.",
		"inbound_customer.greeting":             "Delivery support mein aapka swagat hai.",
		"inbound_customer.how_can_i_help":       "Main aapki kya madad kar sakti hoon?",
		"common.invalid_try_again":              "Maaf kijiye, yeh sahi vikalp nahi tha. Dobara koshish karein.",
		"common.goodbye":                        "Call karne ke liye dhanyavaad. Namaste.",
		"common.apology":                        "Maaf kijiye, abhi hum aage nahi badh pa rahe. Kripya baad mein koshish karein.",
	},
}

// ApologyPhraseID is pre-synthesized for every call so a failing pipeline
// can still close the line with a spoken apology, never silence.
const ApologyPhraseID = "common.apology"

// PhraseText renders a phrase in a language, falling back to English for
// languages without a built-in script. Greeting phrases splice in order
// details from the session.
func PhraseText(phraseID, language string, sess *domain.CallSession) string {
	langMap, ok := phraseTemplates[language]
	if !ok {
		langMap = phraseTemplates["en"]
	}
	tmpl, ok := langMap[phraseID]
	if !ok {
		tmpl, ok = phraseTemplates["en"][phraseID]
		if !ok {
			return ""
		}
	}

	if phraseID == "vendor_new_order.greeting" {
		amount, vendor := orderDetails(sess)
		return fmt.Sprintf(tmpl, amount, vendor)
	}
	return tmpl
}

func orderDetails(sess *domain.CallSession) (amount, vendor string) {
	amount, vendor = "an order", "your store"
	if sess == nil || sess.Metadata == nil {
		return
	}
	if v, ok := sess.Metadata["amountText"].(string); ok && v != "" {
		amount = v
	}
	if v, ok := sess.Metadata["vendorName"].(string); ok && v != "" {
		vendor = v
	}
	return
}

// templatePhraseID builds the deterministic cache key component for a
// phrase. Order-specific phrases embed the order id so repeat calls for the
// same order reuse the synthesized clip while other orders do not.
func templatePhraseID(phraseID string, sess *domain.CallSession) string {
	if phraseID == "vendor_new_order.greeting" && sess != nil && sess.OrderID != "" {
		return phraseID + ":" + sess.OrderID
	}
	return phraseID
}
