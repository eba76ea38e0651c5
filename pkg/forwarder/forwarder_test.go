package forwarder

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/UKHomeOffice/recordsync/pkg/record"
)

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func makeRecords(n int) []record.Target {
	rs := make([]record.Target, n)
	for i := range rs {
		rs[i] = record.Target{"seq": {Value: i}}
	}
	return rs
}

type sent struct {
	App     string                              `json:"app"`
	Records []map[string]map[string]interface{} `json:"records"`
}

func TestForward(t *testing.T) {

	tt := []struct {
		name   string
		count  int
		status int
		reply  string
		err    string
	}{
		{name: "happy", count: 100, status: http.StatusOK, reply: `{"ids":["1"],"revisions":["1"]}`},
		{name: "single", count: 1, status: http.StatusCreated},
		{name: "rejected", count: 3, status: http.StatusBadRequest, reply: `{"code":"CB_VA01","message":"missing field"}`,
			err: `destination replied with status 400: {"code":"CB_VA01","message":"missing field"}`},
		{name: "server error", count: 2, status: http.StatusBadGateway, reply: "bad gateway", err: "status 502"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {

			var calls int32
			testSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

				atomic.AddInt32(&calls, 1)

				if r.Method != http.MethodPost {
					t.Errorf("wrong method: %v", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("wrong content type: %v", ct)
				}
				if tok := r.Header.Get(DefaultTokenHeader); tok != "token-1" {
					t.Errorf("wrong token header: %v", tok)
				}

				var body sent
				if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
					t.Errorf("could not decode request body: %v", err)
				}
				if body.App != "42" {
					t.Errorf("expected app 42, got %v", body.App)
				}
				if len(body.Records) != tc.count {
					t.Errorf("expected %d records, got %d", tc.count, len(body.Records))
				}
				for i, rec := range body.Records {
					if got := rec["seq"]["value"]; got != float64(i) {
						t.Errorf("record %d out of order: got seq %v", i, got)
						break
					}
				}

				w.WriteHeader(tc.status)
				io.WriteString(w, tc.reply)
			}))
			defer testSrv.Close()

			f, err := New(Config{URL: testSrv.URL, Token: "token-1", AppID: "42"}, quiet())
			if err != nil {
				t.Fatalf("could not make forwarder: %v", err)
			}

			err = f.Forward(context.Background(), makeRecords(tc.count))

			if n := atomic.LoadInt32(&calls); n != 1 {
				t.Errorf("expected exactly one request, got %d", n)
			}

			if tc.err == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error %q, got none", tc.err)
			}
			if !errors.Is(err, ErrForward) {
				t.Errorf("expected ErrForward, got %v", err)
			}
			var fe *Error
			if !errors.As(err, &fe) || fe.StatusCode != tc.status || fe.Body != tc.reply {
				t.Errorf("expected status %d and body %q, got %+v", tc.status, tc.reply, fe)
			}
			if msg := err.Error(); !strings.Contains(msg, tc.err) {
				t.Errorf("expected error %q, got: %q", tc.err, msg)
			}
		})
	}
}

func TestForwardFaultInjected(t *testing.T) {

	var calls int32
	testSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer testSrv.Close()

	f, err := New(Config{URL: testSrv.URL, InjectFault: true}, quiet())
	if err != nil {
		t.Fatalf("could not make forwarder: %v", err)
	}

	for _, n := range []int{0, 1, 100, 250} {
		err := f.Forward(context.Background(), makeRecords(n))
		if !errors.Is(err, ErrFaultInjected) {
			t.Errorf("expected ErrFaultInjected for %d records, got %v", n, err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestForwardTooManyRecords(t *testing.T) {

	f, err := New(Config{URL: "https://example.cybozu.com/k/v1/records.json", MaxRecords: 2}, quiet())
	if err != nil {
		t.Fatalf("could not make forwarder: %v", err)
	}

	err = f.Forward(context.Background(), makeRecords(3))
	if !errors.Is(err, ErrTooManyRecords) {
		t.Errorf("expected ErrTooManyRecords, got %v", err)
	}
}

func TestForwardTransportFailure(t *testing.T) {

	testSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	u := testSrv.URL
	testSrv.Close()

	f, err := New(Config{URL: u}, quiet())
	if err != nil {
		t.Fatalf("could not make forwarder: %v", err)
	}

	err = f.Forward(context.Background(), makeRecords(1))
	if !errors.Is(err, ErrForward) {
		t.Errorf("expected ErrForward, got %v", err)
	}
	var fe *Error
	if !errors.As(err, &fe) || fe.Err == nil {
		t.Errorf("expected a transport error, got %+v", fe)
	}
}

func TestForwardAbandonedBeforeDeadline(t *testing.T) {

	release := make(chan struct{})
	testSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer testSrv.Close()
	defer close(release)

	f, err := New(Config{URL: testSrv.URL, Timeout: time.Minute}, quiet(), WithDeadlineMargin(time.Second))
	if err != nil {
		t.Fatalf("could not make forwarder: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = f.Forward(ctx, makeRecords(1))
	if !errors.Is(err, ErrForward) {
		t.Fatalf("expected ErrForward, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded in chain, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second+250*time.Millisecond {
		t.Errorf("expected the call to be abandoned before the invocation deadline, took %v", elapsed)
	}
}

func TestNew(t *testing.T) {

	tt := []struct {
		name string
		url  string
		err  string
	}{
		{name: "happy", url: "https://example.cybozu.com/k/v1/records.json"},
		{name: "relative", url: "/k/v1/records.json", err: "is not absolute"},
		{name: "bad", url: "http://[::1", err: "could not parse destination URL"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			f, err := New(Config{URL: tc.url})
			if err != nil {
				if msg := err.Error(); tc.err == "" || !strings.Contains(msg, tc.err) {
					t.Errorf("expected error %q, got: %q", tc.err, msg)
				}
				return
			}
			if f.cfg.TokenHeader != DefaultTokenHeader || f.cfg.MaxRecords != DefaultMaxRecords || f.cfg.Timeout != DefaultTimeout {
				t.Errorf("defaults not applied: %+v", f.cfg)
			}
		})
	}
}
