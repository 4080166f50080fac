package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameterDecrypts(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/lifestation/bot-token"), Value: strPtr("123:abc"), Type: types.ParameterTypeSecureString,
	}}}
	ps, err := NewParamStore(api)
	require.NoError(t, err)

	v, err := ps.GetParameter(context.Background(), " /lifestation/bot-token ")
	require.NoError(t, err)
	require.Equal(t, "123:abc", v)
	require.Equal(t, "/lifestation/bot-token", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameterErrors(t *testing.T) {
	_, err := NewParamStore(nil)
	require.Error(t, err)

	ps, err := NewParamStore(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)
	_, err = ps.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")

	_, err = ps.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "name is required")

	ps, err = NewParamStore(&fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}})
	require.NoError(t, err)
	_, err = ps.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "no value")
}

type fakeGetter struct {
	value string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(context.Context, string) (string, error) {
	f.calls++
	return f.value, f.err
}

func TestResolveToken(t *testing.T) {
	ctx := context.Background()

	g := &fakeGetter{value: "from-ssm"}
	v, err := ResolveToken(ctx, "direct", "/p", g)
	require.NoError(t, err)
	require.Equal(t, "direct", v)
	require.Zero(t, g.calls, "direct value must win without calling SSM")

	v, err = ResolveToken(ctx, "", "/p", g)
	require.NoError(t, err)
	require.Equal(t, "from-ssm", v)

	_, err = ResolveToken(ctx, " ", "", g)
	require.ErrorIs(t, err, ErrMissingCredential)

	_, err = ResolveToken(ctx, "", "/p", &fakeGetter{value: "  "})
	require.ErrorIs(t, err, ErrMissingCredential)

	_, err = ResolveToken(ctx, "", "/p", &fakeGetter{err: errors.New("denied")})
	require.ErrorContains(t, err, "denied")

	_, err = ResolveToken(ctx, "", "/p", nil)
	require.Error(t, err)
}
