package step

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/mend/pkg/driver"
)

// mockHandle implements driver.Handle with canned results.
type mockHandle struct {
	clickErr error
	fillErr  error
	text     string
	textErr  error
	filled   string
}

func (h *mockHandle) Click(ctx context.Context) error { return h.clickErr }

func (h *mockHandle) Fill(ctx context.Context, value string) error {
	h.filled = value
	return h.fillErr
}

func (h *mockHandle) Text(ctx context.Context) (string, error) { return h.text, h.textErr }

// mockDriver implements driver.Driver for runner tests.
type mockDriver struct {
	handles    map[string]*mockHandle
	locateErr  error
	navErr     error
	navigated  []string
	waitErr    error
	screenshot []byte
	url        string
}

func newMockDriver() *mockDriver {
	return &mockDriver{
		handles: make(map[string]*mockHandle),
		url:     "https://example.com",
	}
}

func (d *mockDriver) Navigate(ctx context.Context, url string) error {
	if d.navErr != nil {
		return d.navErr
	}
	d.navigated = append(d.navigated, url)
	return nil
}

func (d *mockDriver) Locate(ctx context.Context, locator string) (driver.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.locateErr != nil {
		return nil, d.locateErr
	}
	handle, ok := d.handles[locator]
	if !ok {
		return nil, fmt.Errorf("%w: locator %q", driver.ErrNotFound, locator)
	}
	return handle, nil
}

func (d *mockDriver) Snapshot(ctx context.Context) (json.RawMessage, error) { return nil, nil }

func (d *mockDriver) Screenshot(ctx context.Context) ([]byte, error) { return d.screenshot, nil }

func (d *mockDriver) PageURL() string { return d.url }

func (d *mockDriver) PageHTML(ctx context.Context) (string, error) { return "", nil }

func (d *mockDriver) WaitVisible(ctx context.Context, locator string) error { return d.waitErr }

func (d *mockDriver) NewTab(ctx context.Context, url string) error { return nil }

func (d *mockDriver) SwitchTab(ctx context.Context, index int) error { return nil }

func (d *mockDriver) Close() error { return nil }

func TestExecute_ClickSuccess(t *testing.T) {
	drv := newMockDriver()
	drv.handles[`text="Save"`] = &mockHandle{}
	runner := NewRunner(drv)

	s := &Step{Number: 1, Action: ActionClick, Target: "save button"}
	outcome, failure := runner.Execute(context.Background(), s, `text="Save"`)

	require.Nil(t, failure)
	require.NotNil(t, outcome)
	assert.Equal(t, StatusSuccess, s.Status)
	assert.Equal(t, `text="Save"`, s.LocatorUsed)
	assert.Equal(t, "https://example.com", outcome.URL)
	assert.Empty(t, s.ErrorMessage)
}

func TestExecute_FillPassesValue(t *testing.T) {
	drv := newMockDriver()
	handle := &mockHandle{}
	drv.handles[`[placeholder="Email"]`] = handle
	runner := NewRunner(drv)

	s := &Step{Number: 1, Action: ActionFill, Target: "email field", Value: "me@example.com"}
	_, failure := runner.Execute(context.Background(), s, `[placeholder="Email"]`)

	require.Nil(t, failure)
	assert.Equal(t, "me@example.com", handle.filled)
}

func TestExecute_ExtractReturnsText(t *testing.T) {
	drv := newMockDriver()
	drv.handles[`text="Total"`] = &mockHandle{text: "Total: $42.00"}
	runner := NewRunner(drv)

	s := &Step{Number: 1, Action: ActionExtract, Target: "total amount"}
	outcome, failure := runner.Execute(context.Background(), s, `text="Total"`)

	require.Nil(t, failure)
	assert.Equal(t, "Total: $42.00", outcome.Extracted)
}

func TestExecute_LocateFailureIsData(t *testing.T) {
	drv := newMockDriver()
	runner := NewRunner(drv)

	s := &Step{Number: 1, Action: ActionClick, Target: "missing button"}
	outcome, failure := runner.Execute(context.Background(), s, `text="Missing"`)

	require.Nil(t, outcome)
	require.NotNil(t, failure)
	assert.Equal(t, FailLocate, failure.Kind)
	assert.Equal(t, `text="Missing"`, failure.AttemptedLocator)
	assert.Equal(t, StatusFailed, s.Status)
	assert.NotEmpty(t, s.ErrorMessage)
}

func TestExecute_ActionFailure(t *testing.T) {
	drv := newMockDriver()
	drv.handles[`text="Save"`] = &mockHandle{
		clickErr: fmt.Errorf("%w: element moved", driver.ErrDetached),
	}
	runner := NewRunner(drv)

	s := &Step{Number: 1, Action: ActionClick, Target: "save button"}
	_, failure := runner.Execute(context.Background(), s, `text="Save"`)

	require.NotNil(t, failure)
	assert.Equal(t, FailAction, failure.Kind)
}

func TestExecute_TimeoutFailure(t *testing.T) {
	drv := newMockDriver()
	drv.waitErr = fmt.Errorf("%w: wait failed", driver.ErrTimeout)
	runner := NewRunner(drv)

	s := &Step{Number: 1, Action: ActionWait, Target: "spinner gone"}
	_, failure := runner.Execute(context.Background(), s, `text="Loading"`)

	require.NotNil(t, failure)
	assert.Equal(t, FailTimeout, failure.Kind)
}

func TestExecute_CancelledWinsOverOtherKinds(t *testing.T) {
	drv := newMockDriver()
	runner := NewRunner(drv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &Step{Number: 1, Action: ActionClick, Target: "anything"}
	_, failure := runner.Execute(ctx, s, `text="Anything"`)

	require.NotNil(t, failure)
	assert.Equal(t, FailCancelled, failure.Kind)
}

func TestExecute_NavigateUsesValue(t *testing.T) {
	drv := newMockDriver()
	runner := NewRunner(drv)

	s := &Step{Number: 1, Action: ActionNavigate, Value: "https://example.com/login"}
	_, failure := runner.Execute(context.Background(), s, "")

	require.Nil(t, failure)
	assert.Equal(t, []string{"https://example.com/login"}, drv.navigated)
}

func TestExecute_InvalidStep(t *testing.T) {
	runner := NewRunner(newMockDriver())

	s := &Step{Number: 3, Action: ActionNavigate} // missing URL
	_, failure := runner.Execute(context.Background(), s, "")

	require.NotNil(t, failure)
	assert.Equal(t, FailInvalid, failure.Kind)
	assert.Equal(t, StatusFailed, s.Status)
}

func TestExecute_TargetWithoutLocator(t *testing.T) {
	runner := NewRunner(newMockDriver())

	s := &Step{Number: 1, Action: ActionClick, Target: "some button"}
	_, failure := runner.Execute(context.Background(), s, "")

	require.NotNil(t, failure)
	assert.Equal(t, FailLocate, failure.Kind)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		step    Step
		wantErr bool
	}{
		{"valid click", Step{Number: 1, Action: ActionClick, Target: "x"}, false},
		{"click without target", Step{Number: 1, Action: ActionClick}, true},
		{"valid navigate", Step{Number: 1, Action: ActionNavigate, Value: "https://x"}, false},
		{"screenshot needs nothing", Step{Number: 1, Action: ActionScreenshot}, false},
		{"switch_tab without index", Step{Number: 1, Action: ActionSwitchTab}, true},
		{"unknown action", Step{Number: 1, Action: "dance"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.step.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
