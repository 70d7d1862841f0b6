package gcpclient

import "testing"

func TestPoolSize(t *testing.T) {
	tests := []struct {
		opts Options
		want int
	}{
		{Options{}, DefaultPoolSize},
		{Options{Threads: 25}, DefaultPoolSize},
		{Options{Threads: 300}, 300},
		{Options{Threads: 300, PoolSize: 64}, 64},
	}
	for _, tt := range tests {
		if got := PoolSize(tt.opts); got != tt.want {
			t.Fatalf("PoolSize(%+v) = %d, want %d", tt.opts, got, tt.want)
		}
	}
}
