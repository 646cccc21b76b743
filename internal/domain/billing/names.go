package billing

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// MaxItemNameLength is the accounting API limit on item names
	MaxItemNameLength = 100
	// MaxItemDescriptionLength is the accounting API limit on item descriptions
	MaxItemDescriptionLength = 4000
	// MaxPaymentMethodNameLength is the accounting API limit on payment method names
	MaxPaymentMethodNameLength = 31
	// MaxDocNumberLength is the accounting API limit on transaction numbers
	MaxDocNumberLength = 21

	DefaultPatientName = "Unknown Patient"
	DefaultPatientID   = "UnknownID"
	DefaultProductName = "Default Product"
)

var (
	emailUnsafe    = regexp.MustCompile(`[^a-z0-9.]`)
	repeatedPeriod = regexp.MustCompile(`\.+`)
)

// titleCase upper-cases the first letter of each word and lower-cases the rest.
// Casers carry state, so one is built per call.
func titleCase(s string) string {
	return cases.Title(language.Und).String(s)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// PatientDisplayName builds "<Title Name> ID <patient id>"
func PatientDisplayName(name, patientID string) string {
	return collapseSpaces(PatientName(name) + " ID " + PatientIDOrDefault(patientID))
}

// PatientName returns the title-cased, whitespace-collapsed patient name
func PatientName(name string) string {
	name = collapseSpaces(name)
	if name == "" {
		return DefaultPatientName
	}
	return titleCase(name)
}

// PatientIDOrDefault returns the trimmed patient ID
func PatientIDOrDefault(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultPatientID
	}
	return id
}

// GivenName is the first word of a patient name
func GivenName(name string) string {
	name = PatientName(name)
	if i := strings.IndexByte(name, ' '); i > 0 {
		return name[:i]
	}
	return name
}

// CustomerEmail derives a stable placeholder address from a display name
func CustomerEmail(displayName string) string {
	local := emailUnsafe.ReplaceAllString(strings.ToLower(displayName), ".")
	local = strings.Trim(repeatedPeriod.ReplaceAllString(local, "."), ".")
	local = truncate(local, 60)
	if local == "" {
		local = "user"
	}
	return local + "@example.com"
}

// ItemName returns the item name for a row: the description, falling back to
// the product text. Characters other than letters, digits and " .-_" become
// spaces, then spaces are collapsed and the result is title-cased.
func ItemName(description, product string) string {
	source := collapseSpaces(description)
	if source == "" {
		source = collapseSpaces(product)
	}
	name := SanitizeName(source)
	if name == "" {
		return DefaultProductName
	}
	return truncate(name, MaxItemNameLength)
}

// SanitizeName applies the item-name character rules without truncation
func SanitizeName(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if isAlnum(r) || strings.ContainsRune(" .-_", r) {
			return r
		}
		return ' '
	}, s)
	return titleCase(collapseSpaces(cleaned))
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ItemDescription returns the item description: the product text, capped
func ItemDescription(product string) string {
	return truncate(strings.TrimSpace(product), MaxItemDescriptionLength)
}

var paymentMethodNames = map[string]string{
	"cash":        "Cash",
	"check":       "Check",
	"credit card": "Credit Card",
	"debit card":  "Debit Card",
	"mpesa":       "MPESA",
}

// PaymentMethodName normalizes a Mode of Payment value to a payment method
// name. Only the first comma-separated token is used.
func PaymentMethodName(mode string) string {
	mode = strings.TrimSpace(strings.SplitN(mode, ",", 2)[0])
	mode = collapseSpaces(mode)
	if mode == "" {
		return ""
	}
	if name, ok := paymentMethodNames[strings.ToLower(mode)]; ok {
		return name
	}
	return truncate(titleCase(mode), MaxPaymentMethodNameLength)
}

// DocNumber caps an invoice number to the accounting API limit
func DocNumber(invoiceNo string) string {
	return truncate(strings.TrimSpace(invoiceNo), MaxDocNumberLength)
}
