package mocks

import (
	"context"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockProvisioner is a mock implementation of protocol.Provisioner interface.
type MockProvisioner struct {
	mock.Mock
}

func (m *MockProvisioner) Acquire(ctx context.Context, requirements models.Requirements) (protocol.EnvironmentContext, error) {
	args := m.Called(ctx, requirements)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(protocol.EnvironmentContext), args.Error(1)
}

func (m *MockProvisioner) Release(ctx context.Context, env protocol.EnvironmentContext) error {
	args := m.Called(ctx, env)

	return args.Error(0)
}

// MockReportSink is a mock implementation of protocol.ReportSink interface.
type MockReportSink struct {
	mock.Mock
}

func (m *MockReportSink) Consume(ctx context.Context, report *models.RunReport) error {
	args := m.Called(ctx, report)

	return args.Error(0)
}
