package chat

import "testing"

func TestCloseReason(t *testing.T) {
	tests := []struct {
		reason    CloseReason
		loggedOut bool
		str       string
	}{
		{CloseReason{Code: CloseLoggedOut, Message: "logged out"}, true, "code 401: logged out"},
		{CloseReason{Code: CloseConnectionLost}, false, "code 408"},
		{CloseReason{Code: CloseRestartRequired, Message: "restart"}, false, "code 515: restart"},
	}
	for _, tt := range tests {
		if got := tt.reason.LoggedOut(); got != tt.loggedOut {
			t.Errorf("%v.LoggedOut() = %v, want %v", tt.reason, got, tt.loggedOut)
		}
		if got := tt.reason.String(); got != tt.str {
			t.Errorf("String() = %q, want %q", got, tt.str)
		}
	}
}
