package validator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guardloop/guardloop/pkg/parser"
	"github.com/guardloop/guardloop/pkg/validator"
)

func TestValidateFlagsMissingMFA(t *testing.T) {
	p := parser.Parse("a database backend frontend with rbac and audit logging, csv export")
	violations := validator.Validate(p, "a database backend frontend with rbac and audit logging, csv export")
	found := false
	for _, v := range violations {
		if v.RuleID == "bpsbs.mfa" {
			found = true
		}
	}
	assert.True(t, found, "expected bpsbs.mfa violation when MFA is never mentioned")
}

func TestValidateCleanTextClearsMFAAndCoverageRules(t *testing.T) {
	raw := "database backend frontend mfa azuread rbac audit logging export csv pdf xlsx " +
		"unit tests e2e integration tests try catch logger dark mode tooltip accessibility aria- export button"
	p := parser.Parse(raw + "\nTest coverage: 100%")
	violations := validator.Validate(p, raw+"\nTest coverage: 100%")
	for _, v := range violations {
		assert.NotEqual(t, "bpsbs.mfa", v.RuleID)
		assert.NotEqual(t, "bpsbs.test_coverage", v.RuleID)
	}
}

func TestValidateVagueButtonPresence(t *testing.T) {
	p := parser.Parse(`<button>OK</button>`)
	violations := validator.Validate(p, `<button>OK</button>`)
	found := false
	for _, v := range violations {
		if v.RuleID == "ux.vague_button" {
			found = true
		}
	}
	assert.True(t, found)
}
