package job_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/timottowitz/conveyor/job"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want job.Class
	}{
		{"transient wrapper", job.Transient(errors.New("connection reset")), job.ClassTransient},
		{"permanent wrapper", job.Permanent(errors.New("account deleted")), job.ClassPermanent},
		{"transientf", job.Transientf("dial %s: refused", "db"), job.ClassTransient},
		{"permanentf", job.Permanentf("no such tenant %q", "ghost"), job.ClassPermanent},
		{"timeout", &job.TimeoutError{Timeout: time.Second}, job.ClassTransient},
		{"deadline exceeded", context.DeadlineExceeded, job.ClassTransient},
		{"unclassified defaults transient", errors.New("boom"), job.ClassTransient},
		{"wrapped permanent keeps class", errors.Join(errors.New("outer"), job.Permanent(errors.New("inner"))), job.ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := job.Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	if job.IsPermanent(job.Transient(errors.New("x"))) {
		t.Error("transient classified permanent")
	}
	if !job.IsPermanent(job.Permanent(errors.New("x"))) {
		t.Error("permanent classified transient")
	}
}

func TestHandlerErrorUnwrap(t *testing.T) {
	cause := errors.New("row not found")
	err := job.Permanent(cause)
	if !errors.Is(err, cause) {
		t.Error("HandlerError does not unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "permanent") {
		t.Errorf("error text %q missing class", err.Error())
	}
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := &job.TimeoutError{Timeout: 30 * time.Second}
	if !strings.Contains(err.Error(), "30s") {
		t.Errorf("error text %q missing duration", err.Error())
	}
}
