// Package camundatest provides an in-process worker.JobClient that records
// the commands a handler sends.
package camundatest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/camunda/zeebe/clients/go/v8/pkg/commands"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"google.golang.org/grpc"
)

// JobClient answers every command successfully and keeps the requests.
type JobClient struct {
	gateway *gateway
}

func NewJobClient() *JobClient {
	return &JobClient{gateway: &gateway{}}
}

func noRetry(context.Context, error) bool { return false }

func (c *JobClient) NewCompleteJobCommand() commands.CompleteJobCommandStep1 {
	return commands.NewCompleteJobCommand(c.gateway, noRetry)
}

func (c *JobClient) NewFailJobCommand() commands.FailJobCommandStep1 {
	return commands.NewFailJobCommand(c.gateway, noRetry)
}

func (c *JobClient) NewThrowErrorCommand() commands.ThrowErrorCommandStep1 {
	return commands.NewThrowErrorCommand(c.gateway, noRetry)
}

// Completed returns the variables of the single completed job decoded into
// out, and false when the job was not completed.
func (c *JobClient) Completed(out interface{}) bool {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	if len(c.gateway.completed) == 0 {
		return false
	}
	last := c.gateway.completed[len(c.gateway.completed)-1]
	if out != nil && last.Variables != "" {
		if err := json.Unmarshal([]byte(last.Variables), out); err != nil {
			return false
		}
	}
	return true
}

// ThrownCode returns the BPMN error code of the last thrown error.
func (c *JobClient) ThrownCode() string {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	if len(c.gateway.thrown) == 0 {
		return ""
	}
	return c.gateway.thrown[len(c.gateway.thrown)-1].ErrorCode
}

// FailedRetries returns the retries of the last failed job, or -1.
func (c *JobClient) FailedRetries() int32 {
	c.gateway.mu.Lock()
	defer c.gateway.mu.Unlock()
	if len(c.gateway.failed) == 0 {
		return -1
	}
	return c.gateway.failed[len(c.gateway.failed)-1].Retries
}

// Job builds a job carrying vars as its variables.
func Job(taskType string, vars interface{}) entities.Job {
	raw, err := json.Marshal(vars)
	if err != nil {
		panic(err)
	}
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                1,
		Type:               taskType,
		ProcessInstanceKey: 100,
		Retries:            3,
		Variables:          string(raw),
	}}
}

type gateway struct {
	pb.GatewayClient

	mu        sync.Mutex
	completed []*pb.CompleteJobRequest
	failed    []*pb.FailJobRequest
	thrown    []*pb.ThrowErrorRequest
}

func (g *gateway) CompleteJob(_ context.Context, in *pb.CompleteJobRequest, _ ...grpc.CallOption) (*pb.CompleteJobResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed = append(g.completed, in)
	return &pb.CompleteJobResponse{}, nil
}

func (g *gateway) FailJob(_ context.Context, in *pb.FailJobRequest, _ ...grpc.CallOption) (*pb.FailJobResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failed = append(g.failed, in)
	return &pb.FailJobResponse{}, nil
}

func (g *gateway) ThrowError(_ context.Context, in *pb.ThrowErrorRequest, _ ...grpc.CallOption) (*pb.ThrowErrorResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.thrown = append(g.thrown, in)
	return &pb.ThrowErrorResponse{}, nil
}
