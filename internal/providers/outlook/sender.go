// Package outlook sends mail through Microsoft Graph.
package outlook

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	"github.com/mailpilot/mailpilot/internal/providers/mimemsg"
)

// Sender delivers mail via the me/sendMail Graph endpoint.
type Sender struct{}

func New() *Sender {
	return &Sender{}
}

func (s *Sender) Send(ctx context.Context, identity, accessToken, to, subject, body string) error {
	cred := &staticTokenCredential{token: accessToken}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred, []string{})
	if err != nil {
		return fmt.Errorf("failed to create Graph client: %w", err)
	}

	message := models.NewMessage()
	message.SetSubject(&subject)

	itemBody := models.NewItemBody()
	contentType := models.TEXT_BODYTYPE
	itemBody.SetContentType(&contentType)
	itemBody.SetContent(&body)
	message.SetBody(itemBody)

	addr := mimemsg.BareAddress(to)
	emailAddress := models.NewEmailAddress()
	emailAddress.SetAddress(&addr)
	recipient := models.NewRecipient()
	recipient.SetEmailAddress(emailAddress)
	message.SetToRecipients([]models.Recipientable{recipient})

	requestBody := users.NewItemSendMailPostRequestBody()
	requestBody.SetMessage(message)
	saveToSent := true
	requestBody.SetSaveToSentItems(&saveToSent)

	if err := client.Me().SendMail().Post(ctx, requestBody, nil); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// staticTokenCredential implements the Azure credential interface around an
// already-acquired bearer token.
type staticTokenCredential struct {
	token string
}

func (c *staticTokenCredential) GetToken(ctx context.Context, options policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     c.token,
		ExpiresOn: time.Now().Add(1 * time.Hour),
	}, nil
}
