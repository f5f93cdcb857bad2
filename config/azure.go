package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// ErrSecretNotFound is returned when the vault holds no secret by that name.
var ErrSecretNotFound = errors.New("secret not found")

// KeyVaultClient wraps Azure Key Vault secret operations.
type KeyVaultClient struct {
	client *azsecrets.Client
}

// VaultURL returns the endpoint of a vault. A full https URL is passed
// through unchanged.
func VaultURL(vaultName string) string {
	if strings.HasPrefix(vaultName, "https://") {
		return strings.TrimRight(vaultName, "/") + "/"
	}
	return fmt.Sprintf("https://%s.vault.azure.net/", vaultName)
}

// NewKeyVaultClient creates a new Key Vault client using DefaultAzureCredential.
func NewKeyVaultClient(vaultName string) (*KeyVaultClient, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure credential: %w", err)
	}
	return NewKeyVaultClientWithCredential(vaultName, cred)
}

// NewKeyVaultClientWithCredential creates a Key Vault client with an explicit
// credential, such as a managed identity.
func NewKeyVaultClientWithCredential(vaultName string, cred azcore.TokenCredential) (*KeyVaultClient, error) {
	client, err := azsecrets.NewClient(VaultURL(vaultName), cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Key Vault client: %w", err)
	}

	return &KeyVaultClient{client: client}, nil
}

// GetSecret retrieves the latest version of a secret.
func (kv *KeyVaultClient) GetSecret(ctx context.Context, name string) (string, error) {
	resp, err := kv.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}

	if resp.Value == nil {
		return "", fmt.Errorf("%w: %s has no value", ErrSecretNotFound, name)
	}

	return *resp.Value, nil
}
