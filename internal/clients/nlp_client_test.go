package clients

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
)

type fakeModel struct {
	replies []string
	errs    []error
	calls   int
}

func (f *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	reply := ""
	if i < len(f.replies) {
		reply = f.replies[i]
	} else if len(f.replies) > 0 {
		reply = f.replies[len(f.replies)-1]
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(reply)}},
		}},
	}, nil
}

func TestDetectEntities_ParsesJSON(t *testing.T) {
	model := &fakeModel{replies: []string{"```json\n" +
		`{"entities":[{"type":"person","text":" Juan Pérez ","score":0.93},{"type":"ID_NUMBER","text":"","score":0.9}]}` +
		"\n```"}}
	client := newNLPClient(model, nil, 1, time.Millisecond)

	entities, err := client.DetectEntities(context.Background(), "El señor Juan Pérez.")

	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "PERSON", entities[0].Type)
	assert.Equal(t, "Juan Pérez", entities[0].Text)
	assert.InDelta(t, 0.93, entities[0].Score, 1e-9)
}

func TestDetectEntities_EmptyTextSkipsCall(t *testing.T) {
	model := &fakeModel{}
	client := newNLPClient(model, nil, 1, time.Millisecond)

	entities, err := client.DetectEntities(context.Background(), "  ")

	assert.NoError(t, err)
	assert.Nil(t, entities)
	assert.Equal(t, 0, model.calls)
}

func TestDetectKeyPhrases(t *testing.T) {
	model := &fakeModel{replies: []string{`{"keyPhrases":[{"text":"derecho de petición","score":0.9}]}`}}
	client := newNLPClient(nil, model, 1, time.Millisecond)

	phrases, err := client.DetectKeyPhrases(context.Background(), "texto")

	require.NoError(t, err)
	require.Len(t, phrases, 1)
	assert.Equal(t, "derecho de petición", phrases[0].Text)
}

func TestGenerate_RetriesTransientErrors(t *testing.T) {
	model := &fakeModel{
		errs:    []error{status.Error(codes.Unavailable, "try later"), status.Error(codes.ResourceExhausted, "quota")},
		replies: []string{"", "", `{"entities":[]}`},
	}
	client := newNLPClient(model, nil, 3, time.Millisecond)

	entities, err := client.DetectEntities(context.Background(), "texto")

	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Equal(t, 3, model.calls)
}

func TestGenerate_PermanentErrorIsServiceError(t *testing.T) {
	model := &fakeModel{errs: []error{status.Error(codes.PermissionDenied, "no access")}}
	client := newNLPClient(model, nil, 3, time.Millisecond)

	_, err := client.DetectEntities(context.Background(), "texto")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrServiceFailed)
	assert.Equal(t, 1, model.calls)
}

func TestGenerate_BadJSON(t *testing.T) {
	client := newNLPClient(&fakeModel{replies: []string{"not json"}}, nil, 1, time.Millisecond)

	_, err := client.DetectEntities(context.Background(), "texto")

	assert.ErrorIs(t, err, apperrors.ErrServiceFailed)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.True(t, IsRetryable(&googleapi.Error{Code: 503}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &googleapi.Error{Code: 429})))
	assert.False(t, IsRetryable(&googleapi.Error{Code: 404}))
	assert.True(t, IsRetryable(status.Error(codes.Unavailable, "down")))
	assert.False(t, IsRetryable(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
