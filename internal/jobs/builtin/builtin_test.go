package builtin

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"workyard/internal/task/job"
	logx "workyard/pkg/logx"
)

func TestRegisterAndRun(t *testing.T) {
	var buf bytes.Buffer
	reg := job.NewRegistry()
	if err := Register(reg, logx.NewWriter(&buf, "debug"), time.Now().Add(-90*time.Second)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := strings.Join(reg.Names(), ","); got != "echo,gc,heartbeat,memstats" {
		t.Fatalf("names = %s", got)
	}
	for _, name := range reg.Names() {
		j, err := reg.Resolve(name)
		if err != nil {
			t.Fatalf("resolve %s: %v", name, err)
		}
		if err := j.Invoke(context.Background(), "hi", 3); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	out := buf.String()
	for _, want := range []string{"heartbeat", "1m30s", "memstats", "hi 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}

	if err := Register(reg, logx.Nop(), time.Time{}); !errors.Is(err, job.ErrDuplicateJob) {
		t.Fatalf("second register err = %v", err)
	}
}

func TestEchoFail(t *testing.T) {
	j := echo(logx.Nop())
	if err := j.Invoke(context.Background(), "fail"); err == nil {
		t.Fatalf("echo fail returned nil")
	}
}

func TestFormatting(t *testing.T) {
	if got := fmtBytes(3 * 1024 * 1024); got != "3.0MB" {
		t.Errorf("fmtBytes = %s", got)
	}
	if got := durRel(2*time.Hour + 5*time.Minute); got != "2h5m" {
		t.Errorf("durRel = %s", got)
	}
}
