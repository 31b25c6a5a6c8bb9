package bearer

import (
	"errors"
	"net/http"
	"testing"
)

func TestAuthenticator(t *testing.T) {
	testCases := []struct {
		name              string
		url               string
		token             string
		hostSuffix        string
		expectedCallCount int
		shouldErr         bool
	}{
		{"Empty Token", "https://login.salesforce.com", "", "salesforce.com", 0, true},
		{"Non-empty Token", "https://login.salesforce.com", "token", "salesforce.com", 1, false},
		{"Request to another host", "https://github.com", "token", "salesforce.com", 0, false},
		{"Any host", "https://github.com", "token", "", 1, false},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(testCase.name, func(t *testing.T) {
			trt := &testRoundTripper{ExpectedToken: tc.token}
			auth := New(tc.token, tc.hostSuffix, trt)
			req, _ := http.NewRequest(http.MethodPost, tc.url, nil)
			_, err := auth.RoundTrip(req)
			if tc.shouldErr {
				if !errors.Is(err, ErrNoToken) {
					t.Fatalf("expected ErrNoToken but received %v", err)
				}
			}
			if err != nil && !tc.shouldErr {
				t.Fatalf("didn't expect an error but received one: %q", err)
			}
			if want, got := tc.expectedCallCount, trt.CallCount; want != got {
				t.Fatalf("expected to have called underlying transport with auth %d times but called it %d times", want, got)
			}
			if req.Header.Get("Authorization") != "" {
				t.Fatal("the caller's request was modified")
			}
		})
	}
}

type testRoundTripper struct {
	CallCount     int
	ExpectedToken string
}

func (t *testRoundTripper) RoundTrip(request *http.Request) (*http.Response, error) {
	if request.Header.Get("Authorization") == "Bearer "+t.ExpectedToken {
		t.CallCount++
	}
	return &http.Response{}, nil
}
