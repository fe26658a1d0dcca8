package coordination

import "testing"

func TestPaths(t *testing.T) {
	t.Parallel()

	paths := NewPaths("/gateway/")

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"cancel", paths.ProcessCancel("p1"), "/gateway/process/p1/cancel"},
		{"redeliver", paths.ProcessRedeliver("p1"), "/gateway/process/p1/redeliver"},
		{"root", paths.ProcessRoot("p1"), "/gateway/process/p1"},
		{"retry", paths.TaskRetry("t1"), "/gateway/task/t1/retry"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s path = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}
