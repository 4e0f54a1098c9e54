package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"uipilot/internal/browser"
	"uipilot/internal/browser/browsertest"
	"uipilot/internal/flow"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitCompleted},
		{"launch", &Error{Kind: KindSessionLaunch, Err: errors.New("x")}, ExitSessionLaunch},
		{"navigation", &Error{Kind: KindNavigation, Err: errors.New("x")}, ExitNavigation},
		{"session busy", &Error{Kind: KindSessionBusy, Err: browser.ErrSessionBusy}, ExitSessionLaunch},
		{"timed out", &Error{Kind: KindRunTimedOut, Err: context.DeadlineExceeded}, ExitTimedOut},
		{"not found", &Error{Kind: KindStepNotFound, Step: 2, Err: errors.New("x")}, ExitFailedAtStep},
		{"action failed", &Error{Kind: KindStepActionFailed, Step: 1, Err: errors.New("x")}, ExitFailedAtStep},
		{"artifact", &Error{Kind: KindArtifactNotDetected, Step: 3, Err: errors.New("x")}, ExitFailedAtStep},
		{"wrapped", fmt.Errorf("run: %w", &Error{Kind: KindNavigation, Err: errors.New("x")}), ExitNavigation},
		{"untyped", errors.New("bad flag"), ExitUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Kind: KindStepNotFound, Step: 2, StepName: "click import", Err: errors.New("no locator resolved")}
	assert.Equal(t, "StepNotFound at step 2 (click import): no locator resolved", err.Error())

	launch := &Error{Kind: KindSessionLaunch, Err: browser.ErrLaunch}
	assert.Equal(t, "SessionLaunchError: "+browser.ErrLaunch.Error(), launch.Error())
	assert.ErrorIs(t, launch, browser.ErrLaunch)
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "Unknown", KindUnknown.String())
}

func TestStepStatusTransient(t *testing.T) {
	assert.True(t, StepNotFound.Transient())
	assert.True(t, StepTimedOut.Transient())
	assert.False(t, StepActionFailed.Transient())
	assert.False(t, StepSucceeded.Transient())
}

func TestArtifactPredicate(t *testing.T) {
	re := regexp.MustCompile(DefaultArtifactPattern)
	ctx := context.Background()

	page := browsertest.NewPage()
	page.SetText("Building...")
	pred := ArtifactPredicate(page, re, nil)
	_, ok := pred(ctx)
	assert.False(t, ok)

	page.RevealAfter(0, "Visit", "https://claude-test-abc123.vercel.app/")
	v, ok := pred(ctx)
	assert.True(t, ok)
	assert.Equal(t, "https://claude-test-abc123.vercel.app", v)

	page.RevealAfter(0, "Preview: https://other.vercel.app")
	v, _ = pred(ctx)
	assert.Equal(t, "https://other.vercel.app", v, "text is scanned before links")

	v, ok = ArtifactPredicate(page, re, []string{"CLAUDE-TEST"})(ctx)
	assert.True(t, ok)
	assert.Equal(t, "https://claude-test-abc123.vercel.app", v)
}

func TestConditionPredicate(t *testing.T) {
	ctx := context.Background()
	page := browsertest.NewPage()
	page.SetText("Deployment queued")
	page.AddElement(browser.CSS("#spinner"))
	_ = page.Navigate(ctx, "https://dashboard.example/deployments/1")

	tests := []struct {
		name string
		cond flow.Condition
		want bool
	}{
		{"text present", flow.Condition{Kind: flow.ConditionText, Value: "queued"}, true},
		{"text missing", flow.Condition{Kind: flow.ConditionText, Value: "Ready"}, false},
		{"url", flow.Condition{Kind: flow.ConditionURL, Value: "/deployments/"}, true},
		{"present", flow.Condition{Kind: flow.ConditionPresent, Locators: []browser.Locator{browser.CSS("#x"), browser.CSS("#spinner")}}, true},
		{"absent fails", flow.Condition{Kind: flow.ConditionAbsent, Locators: []browser.Locator{browser.CSS("#spinner")}}, false},
		{"absent holds", flow.Condition{Kind: flow.ConditionAbsent, Locators: []browser.Locator{browser.CSS("#error")}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ConditionPredicate(page, tt.cond)(ctx)
			assert.Equal(t, tt.want, ok)
		})
	}
}
