// Package validator implements the Validator (spec §4.8): a pure function
// applying three data-driven rule groups (BPSBS, AI-specific, UX/UI) to a
// parsed response and the raw tool text.
package validator

import (
	"regexp"

	"github.com/guardloop/guardloop/pkg/model"
	"github.com/guardloop/guardloop/pkg/parser"
)

// Rule is a single data-driven policy check.
type Rule struct {
	ID            string
	GuardrailType model.GuardrailType
	Severity      model.Severity
	Description   string
	Suggestion    string
	// Triggers reports whether the rule fires for the given inputs.
	Triggers func(raw string, p parser.ParsedResponse) bool
}

func lexemeAbsent(re *regexp.Regexp) func(string, parser.ParsedResponse) bool {
	return func(raw string, _ parser.ParsedResponse) bool { return !re.MatchString(raw) }
}

func lexemePresent(re *regexp.Regexp) func(string, parser.ParsedResponse) bool {
	return func(raw string, _ parser.ParsedResponse) bool { return re.MatchString(raw) }
}

var (
	databaseRe   = regexp.MustCompile(`(?i)\bdatabase\b`)
	backendRe    = regexp.MustCompile(`(?i)\bbackend\b`)
	frontendRe   = regexp.MustCompile(`(?i)\bfrontend\b`)
	mfaRe        = regexp.MustCompile(`(?i)\b(mfa|multi-factor|azuread|azure ad)\b`)
	rbacRe       = regexp.MustCompile(`(?i)\brbac\b|role-based access`)
	auditLogRe   = regexp.MustCompile(`(?i)\baudit log(ging)?\b`)
	exportRe     = regexp.MustCompile(`(?i)\b(export|csv|pdf|xlsx)\b`)
	unitTestRe   = regexp.MustCompile(`(?i)\bunit test\w*\b`)
	e2eRe        = regexp.MustCompile(`(?i)\b(e2e|end-to-end|integration test\w*)\b`)
	tryCatchRe   = regexp.MustCompile(`(?i)\b(try|catch|except)\b`)
	loggerRe     = regexp.MustCompile(`(?i)\blogger?\b|\blogging\b`)
	vagueButtons = regexp.MustCompile(`(?i)>\s*(OK|Submit|More|Click here)\s*<|"(OK|Submit|More|Click here)"`)
	darkModeRe   = regexp.MustCompile(`(?i)dark mode`)
	tooltipRe    = regexp.MustCompile(`(?i)tooltip`)
	a11yRe       = regexp.MustCompile(`(?i)accessib(ility|le)|aria-`)
	exportBtnRe  = regexp.MustCompile(`(?i)export button`)
	interactiveEl = regexp.MustCompile(`(?i)<(button|input|select|a)\b`)
)

// BPSBS, AI-specific, and UX/UI rule tables (spec §4.8).
var bpsbsRules = []Rule{
	{"bpsbs.three_layer.database", model.GuardrailBPSBS, model.SeverityHigh, "Missing reference to the database layer", "Describe the database layer explicitly", lexemeAbsent(databaseRe)},
	{"bpsbs.three_layer.backend", model.GuardrailBPSBS, model.SeverityHigh, "Missing reference to the backend layer", "Describe the backend layer explicitly", lexemeAbsent(backendRe)},
	{"bpsbs.three_layer.frontend", model.GuardrailBPSBS, model.SeverityHigh, "Missing reference to the frontend layer", "Describe the frontend layer explicitly", lexemeAbsent(frontendRe)},
	{"bpsbs.mfa", model.GuardrailBPSBS, model.SeverityCritical, "No MFA/AzureAD reference", "Require MFA or AzureAD for authentication", lexemeAbsent(mfaRe)},
	{"bpsbs.rbac", model.GuardrailBPSBS, model.SeverityHigh, "No RBAC reference", "Define role-based access control", lexemeAbsent(rbacRe)},
	{"bpsbs.audit_logging", model.GuardrailBPSBS, model.SeverityMedium, "No audit logging reference", "Add audit logging for sensitive operations", lexemeAbsent(auditLogRe)},
	{"bpsbs.test_coverage", model.GuardrailBPSBS, model.SeverityMedium, "Test coverage below 100%", "Raise coverage to 100%",
		func(_ string, p parser.ParsedResponse) bool { return p.TestCoverage == nil || *p.TestCoverage < 100 }},
	{"bpsbs.export_formats", model.GuardrailBPSBS, model.SeverityLow, "No export/CSV/PDF/XLSX mention", "Mention supported export formats", lexemeAbsent(exportRe)},
}

var aiRules = []Rule{
	{"ai.unit_tests", model.GuardrailAI, model.SeverityMedium, "Missing unit test lexeme", "Add unit tests", lexemeAbsent(unitTestRe)},
	{"ai.e2e_tests", model.GuardrailAI, model.SeverityMedium, "Missing E2E/integration test lexeme", "Add end-to-end/integration tests", lexemeAbsent(e2eRe)},
	{"ai.try_catch", model.GuardrailAI, model.SeverityMedium, "Missing try/catch lexeme", "Add explicit error handling", lexemeAbsent(tryCatchRe)},
	{"ai.logger", model.GuardrailAI, model.SeverityLow, "Missing logger lexeme", "Add structured logging", lexemeAbsent(loggerRe)},
}

var uxRules = []Rule{
	{"ux.vague_button", model.GuardrailUXUI, model.SeverityLow, "Vague button label present", "Use a descriptive label instead of OK/Submit/More/Click here", lexemePresent(vagueButtons)},
	{"ux.dark_mode", model.GuardrailUXUI, model.SeverityLow, "Missing dark-mode lexeme", "Support dark mode", lexemeAbsent(darkModeRe)},
	{"ux.tooltip", model.GuardrailUXUI, model.SeverityLow, "Missing tooltip lexeme", "Add tooltips for non-obvious controls", lexemeAbsent(tooltipRe)},
	{"ux.accessibility", model.GuardrailUXUI, model.SeverityMedium, "Missing accessibility lexeme", "Address accessibility (ARIA, contrast, etc.)", lexemeAbsent(a11yRe)},
	{"ux.export_button", model.GuardrailUXUI, model.SeverityLow, "Missing export-button lexeme", "Add an export button", lexemeAbsent(exportBtnRe)},
	{"ux.too_many_interactive", model.GuardrailUXUI, model.SeverityLow, "More than 7 interactive elements", "Simplify the interface", func(raw string, _ parser.ParsedResponse) bool {
		return len(interactiveEl.FindAllString(raw, -1)) > 7
	}},
}

// AllRules returns the full, data-driven rule catalogue.
func AllRules() []Rule {
	all := make([]Rule, 0, len(bpsbsRules)+len(aiRules)+len(uxRules))
	all = append(all, bpsbsRules...)
	all = append(all, aiRules...)
	all = append(all, uxRules...)
	return all
}

// Validate evaluates every rule against parsed/raw and returns one Violation
// per triggered rule (spec §4.8). Pure — no I/O, no mutation.
func Validate(p parser.ParsedResponse, raw string) []model.Violation {
	var out []model.Violation
	for _, r := range AllRules() {
		if r.Triggers(raw, p) {
			out = append(out, model.Violation{
				GuardrailType: r.GuardrailType,
				RuleID:        r.ID,
				Severity:      r.Severity,
				Description:   r.Description,
				Suggestion:    r.Suggestion,
			})
		}
	}
	return out
}
