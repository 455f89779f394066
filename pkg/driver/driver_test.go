package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"timeout message", errors.New("Timeout 30000ms exceeded"), IsTimeout},
		{"timed out message", errors.New("operation timed out waiting for selector"), IsTimeout},
		{"detached message", errors.New("element is not attached to the DOM"), IsDetached},
		{"detached keyword", errors.New("node detached during action"), IsDetached},
		{"not found message", errors.New("no element found matching selector"), IsNotFound},
		{"resolved to zero", errors.New("strict mode violation: locator resolved to 0 elements"), IsNotFound},
		{"failed to find", errors.New("failed to find element"), IsNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := Classify(tc.err)
			assert.True(t, tc.check(classified))
			// The original message is preserved in the wrap
			assert.Contains(t, classified.Error(), tc.err.Error())
		})
	}
}

func TestClassify_NilAndUnrecognized(t *testing.T) {
	assert.Nil(t, Classify(nil))

	unknown := errors.New("some unrelated protocol error")
	assert.Equal(t, unknown, Classify(unknown))
	assert.False(t, IsNotFound(unknown))
	assert.False(t, IsTimeout(unknown))
	assert.False(t, IsDetached(unknown))
}

func TestClassify_PassThroughAlreadyClassified(t *testing.T) {
	wrapped := fmt.Errorf("%w: locator %q", ErrNotFound, "text=\"Save\"")
	assert.Equal(t, wrapped, Classify(wrapped))

	// A wrapped timeout is not reclassified even though the text also
	// mentions "not found"
	timeout := fmt.Errorf("%w: element not found before deadline", ErrTimeout)
	classified := Classify(timeout)
	assert.True(t, IsTimeout(classified))
	assert.False(t, IsNotFound(classified))
}

func TestParseRoleLocator(t *testing.T) {
	cases := []struct {
		locator  string
		wantRole string
		wantName string
		wantOK   bool
	}{
		{`role=button[name="Search"]`, "button", "Search", true},
		{`role=textbox[name="Email address"]`, "textbox", "Email address", true},
		{`role=link`, "link", "", true},
		{`role=button[name=Go]`, "button", "Go", true},
		{`role=`, "", "", false},
		{`text="Search"`, "", "", false},
		{`xpath=/html/body`, "", "", false},
		{`#submit`, "", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.locator, func(t *testing.T) {
			role, name, ok := ParseRoleLocator(tc.locator)
			require.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantRole, role)
			assert.Equal(t, tc.wantName, name)
		})
	}
}

func TestPool_RequiresInitialize(t *testing.T) {
	pool := NewPool()
	_, err := pool.OpenSession("task-1", SessionOptions{Headless: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestPool_CloseUnknownSession(t *testing.T) {
	pool := NewPool()
	err := pool.CloseSession("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
