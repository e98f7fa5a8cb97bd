package modules

import (
	"os"
	"strings"
	"testing"
)

func TestModuleConstructors_RequireInfraDependencies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		infra *Infrastructure
	}{
		{name: "nil infra", infra: nil},
		{name: "missing pool", infra: &Infrastructure{}},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewGovernanceModule(tc.infra); err == nil {
				t.Fatalf("NewGovernanceModule(%s) expected error, got nil", tc.name)
			}
			if _, err := NewApprovalModule(tc.infra); err == nil {
				t.Fatalf("NewApprovalModule(%s) expected error, got nil", tc.name)
			}
			if _, err := NewConfigStoreModule(tc.infra); err == nil {
				t.Fatalf("NewConfigStoreModule(%s) expected error, got nil", tc.name)
			}
			if _, err := NewAdminModule(tc.infra); err == nil {
				t.Fatalf("NewAdminModule(%s) expected error, got nil", tc.name)
			}
		})
	}
}

func TestApprovalModule_WiringContract(t *testing.T) {
	t.Parallel()

	src, err := os.ReadFile("approval.go")
	if err != nil {
		t.Fatalf("read approval.go: %v", err)
	}
	text := string(src)

	required := []string{
		"approval.NewEngine(",
		"notification.NewTriggers(",
		"engine.SetNotifier(",
		"engine.SetEventDispatcher(",
	}
	for _, fragment := range required {
		if !strings.Contains(text, fragment) {
			t.Fatalf("approval module missing required wiring fragment %q", fragment)
		}
	}
}
