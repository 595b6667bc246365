package cache

import (
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestConnect(t *testing.T) {
	srv := miniredis.RunT(t)

	client, err := Connect(srv.Addr(), "", 0)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer client.Close()

	if _, err := Connect("127.0.0.1:1", "", 0); err == nil {
		t.Fatalf("expected ping failure for closed port")
	}
}

func TestOptionsFromEnv(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		addr    string
		db      int
		wantErr error
	}{
		{name: "unset", env: map[string]string{}, wantErr: ErrDisabled},
		{name: "addr", env: map[string]string{"REDIS_ADDR": "cache:6379", "REDIS_DB": "3"}, addr: "cache:6379", db: 3},
		{name: "url wins", env: map[string]string{"REDIS_URL": "redis://:pw@queue:6380/2", "REDIS_ADDR": "cache:6379"}, addr: "queue:6380", db: 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, key := range []string{"REDIS_URL", "REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB"} {
				t.Setenv(key, tc.env[key])
			}
			opts, err := OptionsFromEnv()
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("OptionsFromEnv: %v", err)
			}
			if opts.Addr != tc.addr || opts.DB != tc.db {
				t.Fatalf("opts = %s db %d, want %s db %d", opts.Addr, opts.DB, tc.addr, tc.db)
			}
		})
	}

	t.Run("bad db", func(t *testing.T) {
		t.Setenv("REDIS_URL", "")
		t.Setenv("REDIS_ADDR", "cache:6379")
		t.Setenv("REDIS_DB", "two")
		if _, err := OptionsFromEnv(); err == nil {
			t.Fatalf("expected error for non-numeric REDIS_DB")
		}
	})
}
