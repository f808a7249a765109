package secrets

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// accessor is the part of the Secret Manager client we call.
type accessor interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type GCPSecretManager struct {
	client    accessor
	projectID string
	logger    *logrus.Logger
}

// NewGCPSecretManager uses application default credentials unless
// credentialsFile names a service account key.
func NewGCPSecretManager(ctx context.Context, projectID, credentialsFile string, logger *logrus.Logger) (*GCPSecretManager, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secretmanager client: %w", err)
	}

	return &GCPSecretManager{
		client:    client,
		projectID: projectID,
		logger:    logger,
	}, nil
}

func (g *GCPSecretManager) GetSecret(ctx context.Context, secretName string) (string, error) {
	if secretName == "" {
		return "", fmt.Errorf("secret name is empty")
	}
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", g.projectID, secretName)

	result, err := g.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", secretName, err)
	}
	return string(result.GetPayload().GetData()), nil
}

func (g *GCPSecretManager) GetSecretWithDefault(ctx context.Context, secretName, defaultValue string) string {
	value, err := g.GetSecret(ctx, secretName)
	if err != nil {
		g.logger.WithError(err).WithField("secret", secretName).Debug("Failed to get secret, using default")
		return defaultValue
	}
	return strings.TrimSpace(value)
}

func (g *GCPSecretManager) Close() error {
	return g.client.Close()
}

// SecretNames are the Secret Manager ids holding gateway credentials.
type SecretNames struct {
	GatewayToken      string `mapstructure:"gateway_token"`
	GatewayKeyName    string `mapstructure:"gateway_key_name"`
	GatewayPrivateKey string `mapstructure:"gateway_private_key"`
}

func DefaultSecretNames() SecretNames {
	return SecretNames{
		GatewayToken:      "twsbridge-gateway-token",
		GatewayKeyName:    "twsbridge-gateway-key-name",
		GatewayPrivateKey: "twsbridge-gateway-private-key",
	}
}

// GatewayCredentials holds whatever the handshake authenticator needs.
type GatewayCredentials struct {
	Token         string
	KeyName       string
	PrivateKeyPEM string
}

// Fill loads every empty credential from its secret. Values already set
// are left alone.
func (g *GCPSecretManager) Fill(ctx context.Context, names SecretNames, creds *GatewayCredentials) {
	if creds.Token == "" {
		creds.Token = g.GetSecretWithDefault(ctx, names.GatewayToken, "")
	}
	if creds.KeyName == "" {
		creds.KeyName = g.GetSecretWithDefault(ctx, names.GatewayKeyName, "")
	}
	if creds.PrivateKeyPEM == "" {
		creds.PrivateKeyPEM = g.GetSecretWithDefault(ctx, names.GatewayPrivateKey, "")
	}
	g.logger.Info("Loaded gateway credentials from GCP Secret Manager")
}
