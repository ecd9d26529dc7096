package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/aistackops/aikit/cmd/aikit/config"
)

type fakeDoer struct {
	mu        sync.Mutex
	responses map[string][]int
	calls     map[string]int
}

func newFakeDoer() *fakeDoer {
	return &fakeDoer{responses: make(map[string][]int), calls: make(map[string]int)}
}

// respond queues status codes for a URL; 0 means a connection error.
// The last code repeats once the queue is drained.
func (f *fakeDoer) respond(url string, codes ...int) {
	f.responses[url] = codes
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	url := req.URL.String()
	codes := f.responses[url]
	if len(codes) == 0 {
		return nil, errors.New("no route to host")
	}
	idx := f.calls[url]
	f.calls[url]++
	if idx >= len(codes) {
		idx = len(codes) - 1
	}
	code := codes[idx]
	if code == 0 {
		return nil, errors.New("connection refused")
	}
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func testChecker(doer HTTPDoer) (*HealthChecker, *[]time.Duration) {
	var sleeps []time.Duration
	h := NewHealthChecker(testLogger())
	h.client = doer
	h.MaxAttempts = 3
	h.InitialBackoff = 2 * time.Second
	h.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return h, &sleeps
}

func TestCheckServiceHealthy(t *testing.T) {
	doer := newFakeDoer()
	doer.respond("http://10.0.0.1:5678/healthz", 200)
	h, sleeps := testChecker(doer)

	result := h.CheckService(context.Background(), ServiceEndpoint{
		ServiceName: "n8n",
		URL:         "http://10.0.0.1:5678/healthz",
	})

	if result.Status != StatusHealthy || result.Attempts != 1 {
		t.Errorf("result = %+v", result)
	}
	if len(*sleeps) != 0 {
		t.Errorf("slept %v before a first-attempt success", *sleeps)
	}
}

func TestCheckServiceRecoversWithBackoff(t *testing.T) {
	doer := newFakeDoer()
	doer.respond("http://10.0.0.1:11434/api/tags", 0, 503, 200)
	h, sleeps := testChecker(doer)

	result := h.CheckService(context.Background(), ServiceEndpoint{
		ServiceName: "ollama",
		URL:         "http://10.0.0.1:11434/api/tags",
	})

	if result.Status != StatusHealthy || result.Attempts != 3 {
		t.Errorf("result = %+v", result)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("sleep %d = %v, want %v (backoff must increase)", i, (*sleeps)[i], d)
		}
	}
}

func TestCheckServiceUnhealthyAfterAllAttempts(t *testing.T) {
	doer := newFakeDoer()
	doer.respond("http://10.0.0.1:6333/healthz", 500)
	h, _ := testChecker(doer)

	result := h.CheckService(context.Background(), ServiceEndpoint{
		ServiceName: "qdrant",
		URL:         "http://10.0.0.1:6333/healthz",
	})

	if result.Status != StatusUnhealthy {
		t.Errorf("status = %q, want unhealthy", result.Status)
	}
	if result.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", result.Attempts)
	}
	if result.LastError == "" {
		t.Error("last error not recorded")
	}
}

func TestCheckAll(t *testing.T) {
	doer := newFakeDoer()
	doer.respond("http://10.0.0.1:5678/healthz", 200)
	doer.respond("http://10.0.0.1:11434/api/tags", 200)
	doer.respond("http://10.0.0.1:6333/healthz", 500)
	h, _ := testChecker(doer)

	endpoints := []ServiceEndpoint{
		{ServiceName: "n8n", URL: "http://10.0.0.1:5678/healthz"},
		{ServiceName: "ollama", URL: "http://10.0.0.1:11434/api/tags"},
		{ServiceName: "qdrant", URL: "http://10.0.0.1:6333/healthz"},
	}
	results, allHealthy := h.CheckAll(context.Background(), endpoints)

	if allHealthy {
		t.Error("allHealthy = true with an unhealthy service")
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	byName := make(map[string]HealthCheckResult)
	for _, r := range results {
		byName[r.ServiceName] = r
	}
	if byName["n8n"].Status != StatusHealthy || byName["ollama"].Status != StatusHealthy {
		t.Errorf("results = %+v", byName)
	}
	if byName["qdrant"].Status != StatusUnhealthy {
		t.Errorf("qdrant = %+v", byName["qdrant"])
	}
}

func TestCheckAllEmpty(t *testing.T) {
	h, _ := testChecker(newFakeDoer())

	results, allHealthy := h.CheckAll(context.Background(), nil)
	if len(results) != 0 || allHealthy {
		t.Errorf("results = %v, allHealthy = %v", results, allHealthy)
	}
}

func TestEndpointsFromView(t *testing.T) {
	view := &config.View{
		Services: []config.ServiceView{
			{Name: "n8n", Port: 5678, HealthPath: "/healthz"},
			{Name: "ollama", Port: 11434, HealthPath: "/api/tags"},
		},
	}

	endpoints := Endpoints(view, "54.1.2.3")
	if len(endpoints) != 2 {
		t.Fatalf("endpoints = %d, want 2", len(endpoints))
	}
	if endpoints[0].URL != "http://54.1.2.3:5678/healthz" {
		t.Errorf("url = %q", endpoints[0].URL)
	}
	if endpoints[1].ServiceName != "ollama" || endpoints[1].URL != "http://54.1.2.3:11434/api/tags" {
		t.Errorf("endpoint = %+v", endpoints[1])
	}
}

func TestConfigureFromView(t *testing.T) {
	h := NewHealthChecker(testLogger())
	h.ConfigureFromView(&config.View{
		HealthMaxAttempts:    7,
		HealthInitialBackoff: 3 * time.Second,
		HealthConnectTimeout: 10 * time.Second,
		HealthTotalTimeout:   15 * time.Second,
	})

	if h.MaxAttempts != 7 || h.InitialBackoff != 3*time.Second {
		t.Errorf("checker = %+v", h)
	}
	client, ok := h.client.(*http.Client)
	if !ok {
		t.Fatal("client is not an http.Client")
	}
	if client.Timeout != 15*time.Second {
		t.Errorf("total timeout = %v", client.Timeout)
	}
}

func TestLookupStackAddress(t *testing.T) {
	api := &fakeEC2{
		describeInstances: func(in *ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error) {
			var tagFilter, stateFilter bool
			for _, f := range in.Filters {
				switch aws.ToString(f.Name) {
				case "tag:Stack":
					tagFilter = len(f.Values) == 1 && f.Values[0] == "ai-stack"
				case "instance-state-name":
					stateFilter = len(f.Values) == 1 && f.Values[0] == "running"
				}
			}
			if !tagFilter || !stateFilter {
				t.Errorf("filters = %+v", in.Filters)
			}
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{
					Instances: []ec2types.Instance{{
						InstanceId:      aws.String("i-1"),
						PublicIpAddress: aws.String("203.0.113.10"),
					}},
				}},
			}, nil
		},
	}

	addr, err := lookupStackAddress(context.Background(), api, "ai-stack")
	if err != nil {
		t.Fatalf("lookupStackAddress: %v", err)
	}
	if addr != "203.0.113.10" {
		t.Errorf("addr = %q", addr)
	}
}

func TestLookupStackAddressNoInstance(t *testing.T) {
	if _, err := lookupStackAddress(context.Background(), &fakeEC2{}, "ai-stack"); err == nil {
		t.Error("expected error when no running instance exists")
	}
}
