package secrets

import (
	"context"
	"errors"
	"io"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccessor struct {
	values   map[string]string
	requests []string
}

func (f *fakeAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.requests = append(f.requests, req.GetName())
	v, ok := f.values[req.GetName()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(v)},
	}, nil
}

func (f *fakeAccessor) Close() error { return nil }

func newTestManager(values map[string]string) (*GCPSecretManager, *fakeAccessor) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	fake := &fakeAccessor{values: values}
	return &GCPSecretManager{client: fake, projectID: "proj", logger: logger}, fake
}

func TestGetSecretBuildsVersionName(t *testing.T) {
	m, fake := newTestManager(map[string]string{
		"projects/proj/secrets/twsbridge-gateway-token/versions/latest": "tok\n",
	})

	v, err := m.GetSecret(context.Background(), "twsbridge-gateway-token")
	require.NoError(t, err)
	assert.Equal(t, "tok\n", v)
	assert.Equal(t, []string{"projects/proj/secrets/twsbridge-gateway-token/versions/latest"}, fake.requests)

	assert.Equal(t, "tok", m.GetSecretWithDefault(context.Background(), "twsbridge-gateway-token", "x"))
	assert.Equal(t, "x", m.GetSecretWithDefault(context.Background(), "missing", "x"))

	_, err = m.GetSecret(context.Background(), "")
	assert.Error(t, err)
}

func TestFillKeepsConfiguredValues(t *testing.T) {
	m, _ := newTestManager(map[string]string{
		"projects/proj/secrets/twsbridge-gateway-token/versions/latest":       "from-gcp",
		"projects/proj/secrets/twsbridge-gateway-key-name/versions/latest":    "key-1",
		"projects/proj/secrets/twsbridge-gateway-private-key/versions/latest": "pem",
	})

	creds := GatewayCredentials{Token: "from-env"}
	m.Fill(context.Background(), DefaultSecretNames(), &creds)

	assert.Equal(t, "from-env", creds.Token)
	assert.Equal(t, "key-1", creds.KeyName)
	assert.Equal(t, "pem", creds.PrivateKeyPEM)
	require.NoError(t, m.Close())
}
