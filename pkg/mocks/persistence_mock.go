package mocks

import (
	"context"

	"github.com/dukex/pipewright/pkg/models"
	"github.com/dukex/pipewright/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockDefinitionRepository is a mock implementation of persistence.DefinitionRepository interface.
type MockDefinitionRepository struct {
	mock.Mock
}

func (m *MockDefinitionRepository) GetAll(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) GetByTrigger(ctx context.Context, kind models.TriggerKind) ([]*models.WorkflowDefinition, error) {
	args := m.Called(ctx, kind)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowDefinition), args.Error(1)
}

func (m *MockDefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	args := m.Called(ctx, definition)

	return args.Error(0)
}

func (m *MockDefinitionRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockRunReportRepository is a mock implementation of persistence.RunReportRepository interface.
type MockRunReportRepository struct {
	mock.Mock
}

func (m *MockRunReportRepository) Save(ctx context.Context, report *models.RunReport) error {
	args := m.Called(ctx, report)

	return args.Error(0)
}

func (m *MockRunReportRepository) GetByID(ctx context.Context, runID string) (*models.RunReport, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.RunReport), args.Error(1)
}

func (m *MockRunReportRepository) GetByDefinition(ctx context.Context, definitionID string, limit int) ([]*models.RunReport, error) {
	args := m.Called(ctx, definitionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.RunReport), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence
// interface wired to the repository mocks.
type MockPersistence struct {
	mock.Mock

	Definitions *MockDefinitionRepository
	RunReports  *MockRunReportRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Definitions: &MockDefinitionRepository{},
		RunReports:  &MockRunReportRepository{},
	}
}

func (m *MockPersistence) DefinitionRepository() persistence.DefinitionRepository {
	return m.Definitions
}

func (m *MockPersistence) RunReportRepository() persistence.RunReportRepository {
	return m.RunReports
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
