package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/workflow-service/internal/domain"
	apperrors "github.com/spec-kit/workflow-service/pkg/util/errorutil"
)

type fakeDirectory struct {
	usersByRole map[string][]domain.DirectoryUser
	superiors   map[string][]domain.DirectoryUser

	lastRegionFilter *string
	regionFiltered   bool
}

func (f *fakeDirectory) UsersByRole(_ context.Context, roleID string, regionID *string) ([]domain.DirectoryUser, error) {
	f.lastRegionFilter = regionID
	f.regionFiltered = true
	users := f.usersByRole[roleID]
	if regionID == nil {
		return users, nil
	}
	var scoped []domain.DirectoryUser
	for _, u := range users {
		if u.National || (u.RegionID != nil && *u.RegionID == *regionID) {
			scoped = append(scoped, u)
		}
	}
	return scoped, nil
}

func (f *fakeDirectory) SuperiorOf(_ context.Context, positionID string) ([]domain.DirectoryUser, error) {
	return f.superiors[positionID], nil
}

type fakeFields struct {
	values map[string]string
}

func (f *fakeFields) Value(_ context.Context, ticketID, fieldID string) (string, error) {
	return f.values[ticketID+"/"+fieldID], nil
}

func regionUser(id, roleID, region string) domain.DirectoryUser {
	return domain.DirectoryUser{ID: id, RoleID: roleID, RegionID: &region, Active: true}
}

func TestResolveRoleBasedScopesToRequesterRegion(t *testing.T) {
	national := domain.DirectoryUser{ID: "u-nat", RoleID: "role-7", National: true, Active: true}
	dir := &fakeDirectory{usersByRole: map[string][]domain.DirectoryUser{
		"role-7": {
			regionUser("u-r3", "role-7", "region-3"),
			regionUser("u-r5", "role-7", "region-5"),
			national,
		},
	}}
	resolver := NewResolver(dir, &fakeFields{})

	step := roleStep("s1", 1, allowsClosing)
	requester := regionUser("req", "role-2", "region-3")
	ticket := &domain.TicketState{ID: "tk-1", CreatorID: "creator"}

	ids, err := resolver.ResolveAssignees(context.Background(), step, &requester, ticket)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u-r3", "u-nat"}, ids)
	require.NotNil(t, dir.lastRegionFilter)
	assert.Equal(t, "region-3", *dir.lastRegionFilter)
}

func TestResolveRoleBasedNationalTaskIgnoresRegion(t *testing.T) {
	dir := &fakeDirectory{usersByRole: map[string][]domain.DirectoryUser{
		"role-7": {
			regionUser("u-r3", "role-7", "region-3"),
			regionUser("u-r5", "role-7", "region-5"),
		},
	}}
	resolver := NewResolver(dir, &fakeFields{})

	step := roleStep("s1", 1, allowsClosing)
	step.IsNationalTask = true
	requester := regionUser("req", "role-2", "region-3")

	ids, err := resolver.ResolveAssignees(context.Background(), step, &requester, &domain.TicketState{ID: "tk-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u-r3", "u-r5"}, ids)
	assert.Nil(t, dir.lastRegionFilter)
}

func TestResolveRoleBasedNoEligibleAssignee(t *testing.T) {
	dir := &fakeDirectory{usersByRole: map[string][]domain.DirectoryUser{}}
	resolver := NewResolver(dir, &fakeFields{})

	step := roleStep("s1", 1, allowsClosing)
	requester := regionUser("req", "role-2", "region-3")

	_, err := resolver.ResolveAssignees(context.Background(), step, &requester, &domain.TicketState{ID: "tk-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "NO_ELIGIBLE_ASSIGNEE"))
}

func TestResolveCreatorAuto(t *testing.T) {
	resolver := NewResolver(&fakeDirectory{}, &fakeFields{})

	step := &domain.Step{ID: "s1", FlowID: "flow-1", OrderIndex: 1, Name: "Step s1", AssignToCreator: true, AllowsClosing: true}
	requester := regionUser("req", "role-2", "region-3")

	ids, err := resolver.ResolveAssignees(context.Background(), step, &requester, &domain.TicketState{ID: "tk-1", CreatorID: "creator-9"})
	require.NoError(t, err)
	assert.Equal(t, []string{"creator-9"}, ids)
}

func TestResolveBossReference(t *testing.T) {
	fields := &fakeFields{values: map[string]string{"tk-1/fld-boss": "boss-4"}}
	resolver := NewResolver(&fakeDirectory{}, fields)

	step := &domain.Step{ID: "s1", FlowID: "flow-1", OrderIndex: 1, Name: "Step s1", BossReferenceFieldID: strPtr("fld-boss"), AllowsClosing: true}
	requester := regionUser("req", "role-2", "region-3")

	ids, err := resolver.ResolveAssignees(context.Background(), step, &requester, &domain.TicketState{ID: "tk-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"boss-4"}, ids)
}

func TestResolveBossReferenceMissingValue(t *testing.T) {
	resolver := NewResolver(&fakeDirectory{}, &fakeFields{})

	step := &domain.Step{ID: "s1", FlowID: "flow-1", OrderIndex: 1, Name: "Step s1", BossReferenceFieldID: strPtr("fld-boss"), AllowsClosing: true}
	requester := regionUser("req", "role-2", "region-3")

	_, err := resolver.ResolveAssignees(context.Background(), step, &requester, &domain.TicketState{ID: "tk-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "MISSING_BOSS_REFERENCE"))
}

func TestResolveManualSelectionSignals(t *testing.T) {
	resolver := NewResolver(&fakeDirectory{}, &fakeFields{})

	step := &domain.Step{ID: "s1", FlowID: "flow-1", OrderIndex: 1, Name: "Step s1", RequiresManualSelection: true, AllowsClosing: true}
	requester := regionUser("req", "role-2", "region-3")

	_, err := resolver.ResolveAssignees(context.Background(), step, &requester, &domain.TicketState{ID: "tk-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "MANUAL_SELECTION_REQUIRED"))
}

func TestResolveHierarchical(t *testing.T) {
	dir := &fakeDirectory{superiors: map[string][]domain.DirectoryUser{
		"pos-3": {{ID: "boss-1", Active: true}, {ID: "boss-2", Active: true}},
	}}
	resolver := NewResolver(dir, &fakeFields{})

	step := &domain.Step{ID: "s1", FlowID: "flow-1", OrderIndex: 1, Name: "Step s1", Hierarchical: true, AllowsClosing: true}
	requester := regionUser("req", "role-2", "region-3")
	requester.PositionID = strPtr("pos-3")

	ids, err := resolver.ResolveAssignees(context.Background(), step, &requester, &domain.TicketState{ID: "tk-1"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"boss-1", "boss-2"}, ids)
}

func TestResolveHierarchicalNoSuperior(t *testing.T) {
	dir := &fakeDirectory{superiors: map[string][]domain.DirectoryUser{}}
	resolver := NewResolver(dir, &fakeFields{})

	step := &domain.Step{ID: "s1", FlowID: "flow-1", OrderIndex: 1, Name: "Step s1", Hierarchical: true, AllowsClosing: true}

	topOfChart := regionUser("req", "role-2", "region-3")
	topOfChart.PositionID = strPtr("pos-root")
	_, err := resolver.ResolveAssignees(context.Background(), step, &topOfChart, &domain.TicketState{ID: "tk-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "NO_SUPERIOR_DEFINED"))

	noPosition := regionUser("req2", "role-2", "region-3")
	_, err = resolver.ResolveAssignees(context.Background(), step, &noPosition, &domain.TicketState{ID: "tk-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "NO_SUPERIOR_DEFINED"))
}

func TestResolveRejectsAmbiguousConfiguration(t *testing.T) {
	resolver := NewResolver(&fakeDirectory{}, &fakeFields{})

	step := roleStep("s1", 1, allowsClosing)
	step.AssignToCreator = true
	requester := regionUser("req", "role-2", "region-3")

	_, err := resolver.ResolveAssignees(context.Background(), step, &requester, &domain.TicketState{ID: "tk-1"})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "INVALID_WORKFLOW_CONFIGURATION"))
}
