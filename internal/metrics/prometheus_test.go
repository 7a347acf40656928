package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusCollectorImplementsInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ Collector = NewPrometheusCollector(reg)
}

func TestPrometheusServerImplementsInterface(t *testing.T) {
	var _ Server = NewPrometheusServer(":0", "/metrics", prometheus.NewRegistry())
}

func TestPrometheusCollectorMethods(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SendCompleted("teachers", "success")
	c.StagingFailed("root_unwritable")
	c.AttachmentsStaged(2, 4096)
	c.RecipientsAccepted(5)
	c.RecipientRejected()
	c.HelperCompleted(0, 150*time.Millisecond)
	c.HelperInvocationFailed()
	c.AuditPublished(true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	metricNames := make(map[string]bool)
	for _, mf := range mfs {
		metricNames[mf.GetName()] = true
	}

	expectedMetrics := []string{
		"groupmail_sends_total",
		"groupmail_staging_failures_total",
		"groupmail_attachments_total",
		"groupmail_attachment_size_bytes",
		"groupmail_recipients_per_send",
		"groupmail_recipients_rejected_total",
		"groupmail_helper_exits_total",
		"groupmail_helper_duration_seconds",
		"groupmail_helper_invocation_errors_total",
		"groupmail_audit_publish_total",
	}

	for _, name := range expectedMetrics {
		if !metricNames[name] {
			t.Errorf("expected metric %q not found", name)
		}
	}
}

func TestPrometheusCollectorSendsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SendCompleted("teachers", "success")
	c.SendCompleted("teachers", "success")
	c.SendCompleted("teachers", "rejected")
	c.SendCompleted("office", "failed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() != "groupmail_sends_total" {
			continue
		}
		if len(mf.GetMetric()) != 3 {
			t.Errorf("sends_total has %d metric entries, want 3", len(mf.GetMetric()))
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["group"] == "teachers" && labels["result"] == "success" {
				if v := m.GetCounter().GetValue(); v != 2 {
					t.Errorf("teachers/success = %v, want 2", v)
				}
			}
		}
	}
}

func TestPrometheusCollectorSkipsEmptyAttachments(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.AttachmentsStaged(0, 0)
	c.AttachmentsStaged(3, 100)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range mfs {
		switch mf.GetName() {
		case "groupmail_attachments_total":
			if v := mf.GetMetric()[0].GetCounter().GetValue(); v != 3 {
				t.Errorf("attachments_total = %v, want 3", v)
			}
		case "groupmail_attachment_size_bytes":
			if n := mf.GetMetric()[0].GetHistogram().GetSampleCount(); n != 1 {
				t.Errorf("attachment_size_bytes sample count = %d, want 1", n)
			}
		}
	}
}

func TestPrometheusServerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)
	c.RecipientRejected()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	server := NewPrometheusServer(addr, "/metrics", reg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		data, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		body = string(data)
		break
	}

	if !strings.Contains(body, "groupmail_recipients_rejected_total 1") {
		t.Errorf("metrics output missing rejected counter:\n%s", body)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Start() did not return after cancel")
	}
}
