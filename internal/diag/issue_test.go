package diag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityBlocking(t *testing.T) {
	assert.True(t, SeverityCritical.Blocking())
	assert.True(t, SeverityError.Blocking())
	assert.False(t, SeverityWarning.Blocking())
	assert.False(t, SeverityInfo.Blocking())
}

func TestIssueFilters(t *testing.T) {
	issues := []Issue{
		{Kind: KindTableNotFound, Severity: SeverityError},
		{Kind: KindEmptyResult, Severity: SeverityWarning},
		{Kind: KindStyle, Severity: SeverityInfo},
		{Kind: KindUnbalancedParentheses, Severity: SeverityCritical},
	}

	errs := Errors(issues)
	assert.Len(t, errs, 2)
	for _, iss := range errs {
		assert.True(t, iss.Severity.Blocking())
	}

	warns := Warnings(issues)
	assert.Len(t, warns, 2)
	for _, iss := range warns {
		assert.False(t, iss.Severity.Blocking())
	}
}
