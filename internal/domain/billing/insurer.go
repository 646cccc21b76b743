package billing

import "strings"

// KnownInsurers lists the payer names that mark a transaction as insurer billed
// when they appear in the Mode of Payment column.
var KnownInsurers = []string{
	"JUBILEE INSURANCE",
	"CIC",
	"BRITAM",
	"SHA-SHIF",
	"MADISON INSURANCE",
	"OLD MUTUAL INSURANCE",
	"HERITAGE INSURANCE COMPANY LIMITED",
	"APA",
	"AAR INSURANCE",
	"MINET",
	"MUA",
	"Co-operative health insurance",
	"Kenbright insurance",
	"Byno8 insurance",
	"Kenya alliance",
	"UAP insurance",
	"PACIS INSURANCE",
	"Equity health insurance",
	"NHIF CIVIL SERVANT",
}

// insurerFullNames maps upper-cased insurer names to the customer names used in
// the accounting company.
var insurerFullNames = map[string]string{
	"JUBILEE INSURANCE":                  "Jubilee Insurance Ltd",
	"CIC":                                "Cic Insurance Ltd",
	"BRITAM":                             "Britam Insurance Ltd",
	"MADISON INSURANCE":                  "Madison General Insurance Kenya Ltd",
	"HERITAGE INSURANCE COMPANY LIMITED": "Heritage Insurance Ltd",
	"APA":                                "APA Insurance Ltd",
	"AAR INSURANCE":                      "AAR Insurance Ltd",
	"MINET":                              "Minet Insurance Ltd",
	"MUA":                                "Mua Insurance Ltd",
	"CO-OPERATIVE HEALTH INSURANCE":      "Co-operative Insurance Ltd",
	"BYNO8 INSURANCE":                    "Byno8 Insurance Ltd",
	"KENYA ALLIANCE":                     "Kenya Alliance Insurance Ltd",
	"PACIS INSURANCE":                    "Pacis Insurance Ltd",
	"EQUITY HEALTH INSURANCE":            "Equity Insurance Ltd",
	"NHIF CIVIL SERVANT":                 "National Health Insurance Fund",
	"SHA-SHIF":                           "Sha-Shif",
	"OLD MUTUAL INSURANCE":               "Old Mutual Insurance Ltd",
	"KENBRIGHT INSURANCE":                "Kenbright Insurance Ltd",
	"UAP INSURANCE":                      "UAP Insurance Ltd",
}

// MatchInsurer returns the first comma-separated token of a Mode of Payment
// value that names a known insurer, compared case-insensitively.
func MatchInsurer(modeOfPayment string) (string, bool) {
	for _, token := range strings.Split(modeOfPayment, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		for _, known := range KnownInsurers {
			if strings.EqualFold(token, known) {
				return token, true
			}
		}
	}
	return "", false
}

// InsurerDisplayName returns the preset customer name for an insurer, or the
// title-cased name when there is no preset.
func InsurerDisplayName(name string) string {
	name = collapseSpaces(name)
	if full, ok := insurerFullNames[strings.ToUpper(name)]; ok {
		return full
	}
	return titleCase(name)
}
