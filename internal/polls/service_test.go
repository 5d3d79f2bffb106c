package polls

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/classpoll/backend/internal/auth"
	"github.com/classpoll/backend/internal/models"
	"github.com/classpoll/backend/internal/testutil"
)

type fixture struct {
	service  *Service
	repo     *Repository
	teachers *auth.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	teachers := auth.NewRepository(db)
	repo := NewRepository(db)
	return &fixture{
		service:  NewService(repo, teachers, zap.NewNop()),
		repo:     repo,
		teachers: teachers,
	}
}

func (f *fixture) teacher(t *testing.T, name string) *models.Teacher {
	t.Helper()
	teacher, err := f.teachers.Create(context.Background(), name)
	require.NoError(t, err)
	return teacher
}

func twoPlusTwo(teacher string) CreateParams {
	return CreateParams{
		TeacherUsername: teacher,
		Question:        "What is 2+2?",
		Timer:           30,
		Options: []OptionInput{
			{Text: "3"},
			{Text: "4", Correct: true},
		},
	}
}

func TestCreatePoll(t *testing.T) {
	f := newFixture(t)
	teacher := f.teacher(t, "teacher4821")
	ctx := context.Background()

	poll, err := f.service.CreatePoll(ctx, twoPlusTwo("teacher4821"))
	require.NoError(t, err)

	assert.NotZero(t, poll.ID)
	assert.Equal(t, "What is 2+2?", poll.Question)
	assert.Equal(t, 30, poll.Timer)
	assert.Equal(t, models.PollActive, poll.Status)
	assert.Equal(t, teacher.ID, poll.TeacherID)
	require.Len(t, poll.Options, 2)
	assert.Equal(t, "3", poll.Options[0].Text)
	assert.False(t, poll.Options[0].Correct)
	assert.Equal(t, "4", poll.Options[1].Text)
	assert.True(t, poll.Options[1].Correct)
	for _, o := range poll.Options {
		assert.Zero(t, o.Votes)
		assert.Equal(t, poll.ID, o.PollID)
	}
}

func TestCreatePoll_DefaultTimer(t *testing.T) {
	f := newFixture(t)
	f.teacher(t, "teacher1000")

	params := twoPlusTwo("teacher1000")
	params.Timer = 0
	poll, err := f.service.CreatePoll(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultTimerSeconds, poll.Timer)
}

func TestCreatePoll_TeacherLookupIgnoresCase(t *testing.T) {
	f := newFixture(t)
	f.teacher(t, "teacher2000")

	_, err := f.service.CreatePoll(context.Background(), twoPlusTwo("TEACHER2000"))
	require.NoError(t, err)
}

func TestCreatePoll_Errors(t *testing.T) {
	f := newFixture(t)
	f.teacher(t, "teacher3000")
	ctx := context.Background()

	_, err := f.service.CreatePoll(ctx, twoPlusTwo("nobody"))
	assert.ErrorIs(t, err, ErrTeacherNotFound)

	blank := twoPlusTwo("teacher3000")
	blank.Question = "  "
	_, err = f.service.CreatePoll(ctx, blank)
	assert.ErrorIs(t, err, ErrInvalidPoll)

	blankOption := twoPlusTwo("teacher3000")
	blankOption.Options = append(blankOption.Options, OptionInput{Text: ""})
	_, err = f.service.CreatePoll(ctx, blankOption)
	assert.ErrorIs(t, err, ErrInvalidPoll)
}

func TestCreatePoll_SingleActivePollPerTeacher(t *testing.T) {
	f := newFixture(t)
	f.teacher(t, "teacher4000")
	f.teacher(t, "teacher5000")
	ctx := context.Background()

	first, err := f.service.CreatePoll(ctx, twoPlusTwo("teacher4000"))
	require.NoError(t, err)

	_, err = f.service.CreatePoll(ctx, twoPlusTwo("teacher4000"))
	require.ErrorIs(t, err, ErrActivePollExists)
	assert.Equal(t, "An active poll already exists. Complete it before starting a new one.", err.Error())

	// Other teachers are unaffected.
	_, err = f.service.CreatePoll(ctx, twoPlusTwo("teacher5000"))
	require.NoError(t, err)

	changed, err := f.service.CompletePoll(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = f.service.CreatePoll(ctx, twoPlusTwo("teacher4000"))
	require.NoError(t, err)
}

func TestRecordVote(t *testing.T) {
	f := newFixture(t)
	f.teacher(t, "teacher6000")
	ctx := context.Background()

	poll, err := f.service.CreatePoll(ctx, twoPlusTwo("teacher6000"))
	require.NoError(t, err)

	require.NoError(t, f.service.RecordVote(ctx, poll.ID, "4"))
	require.NoError(t, f.service.RecordVote(ctx, poll.ID, "4"))
	require.NoError(t, f.service.RecordVote(ctx, poll.ID, "3"))

	// Unknown option and unknown poll are ignored.
	require.NoError(t, f.service.RecordVote(ctx, poll.ID, "5"))
	require.NoError(t, f.service.RecordVote(ctx, poll.ID+100, "4"))

	got, err := f.repo.GetByID(ctx, poll.ID)
	require.NoError(t, err)
	votes := map[string]int{}
	for _, o := range got.Options {
		votes[o.Text] = o.Votes
	}
	assert.Equal(t, map[string]int{"3": 1, "4": 2}, votes)
}

func TestCompletePoll(t *testing.T) {
	f := newFixture(t)
	f.teacher(t, "teacher7000")
	ctx := context.Background()

	poll, err := f.service.CreatePoll(ctx, twoPlusTwo("teacher7000"))
	require.NoError(t, err)

	changed, err := f.service.CompletePoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.service.CompletePoll(ctx, poll.ID)
	require.NoError(t, err)
	assert.False(t, changed, "completed poll stays completed")

	got, err := f.repo.GetByID(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PollCompleted, got.Status)

	_, err = f.service.CompletePoll(ctx, poll.ID+100)
	assert.ErrorIs(t, err, ErrPollNotFound)
}

func TestListPolls(t *testing.T) {
	f := newFixture(t)
	f.teacher(t, "teacher8000")
	f.teacher(t, "teacher8001")
	ctx := context.Background()

	list, err := f.service.ListPolls(ctx, "teacher8000")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	first, err := f.service.CreatePoll(ctx, twoPlusTwo("teacher8000"))
	require.NoError(t, err)
	_, err = f.service.CompletePoll(ctx, first.ID)
	require.NoError(t, err)

	second := twoPlusTwo("teacher8000")
	second.Question = "What is 3+3?"
	_, err = f.service.CreatePoll(ctx, second)
	require.NoError(t, err)

	_, err = f.service.CreatePoll(ctx, twoPlusTwo("teacher8001"))
	require.NoError(t, err)

	list, err = f.service.ListPolls(ctx, "teacher8000")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "What is 3+3?", list[0].Question)
	assert.Equal(t, models.PollActive, list[0].Status)
	assert.Equal(t, "What is 2+2?", list[1].Question)
	assert.Equal(t, models.PollCompleted, list[1].Status)
	assert.Len(t, list[1].Options, 2)

	_, err = f.service.ListPolls(ctx, "nobody")
	assert.ErrorIs(t, err, ErrTeacherNotFound)
}
