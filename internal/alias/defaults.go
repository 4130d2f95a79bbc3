package alias

import "github.com/ginjaninja78/blood-test-parser/internal/config"

// defaultAliases is the built-in table used when no alias_file is configured.
// It covers the common biochemistry panel.
var defaultAliases = map[string][]string{
	"Sodium":        {"sodium", "na"},
	"Potassium":     {"potassium", "potasium", "k"},
	"Chloride":      {"chloride", "cl"},
	"Bicarbonate":   {"bicarbonate", "hco3", "total co2"},
	"Urea":          {"urea"},
	"Creatinine":    {"creatinine"},
	"eGFR":          {"egfr"},
	"Calcium":       {"calcium", "corrected calcium", "corr calcium"},
	"Magnesium":     {"magnesium"},
	"Phosphate":     {"phosphate"},
	"Bili.Total":    {"bilirubin total", "bili.total", "bili total", "total bilirubin"},
	"ALP":           {"alp"},
	"GGT":           {"ggt"},
	"LD":            {"ld", "ldh"},
	"AST":           {"ast"},
	"ALT":           {"alt"},
	"Total Protein": {"total protein", "totalprotein"},
	"Albumin":       {"albumin"},
	"Globulin":      {"globulin"},
	"Cholesterol":   {"cholesterol"},
	"Triglycerides": {"triglycerides"},
}

// Default builds the built-in alias table.
func Default(rules []config.NameRule) (*Table, error) {
	return NewTable(defaultAliases, rules)
}
