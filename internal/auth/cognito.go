package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go/service/cognitoidentityprovider/cognitoidentityprovideriface"

	"vocalytics/internal/apperr"
	"vocalytics/internal/awsutil"
)

// Cognito authenticates against a Cognito user pool app client.
type Cognito struct {
	api      cognitoidentityprovideriface.CognitoIdentityProviderAPI
	clientID string
}

func NewCognito(api cognitoidentityprovideriface.CognitoIdentityProviderAPI, clientID string) *Cognito {
	return &Cognito{api: api, clientID: clientID}
}

func (c *Cognito) Authenticate(ctx context.Context, identity, secret string) (*Result, error) {
	out, err := c.api.InitiateAuthWithContext(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: aws.String(cognitoidentityprovider.AuthFlowTypeUserPasswordAuth),
		ClientId: aws.String(c.clientID),
		AuthParameters: map[string]*string{
			"USERNAME": aws.String(strings.TrimSpace(identity)),
			"PASSWORD": aws.String(secret),
		},
	})
	if err != nil {
		return nil, classify("initiate auth", err)
	}
	if name := aws.StringValue(out.ChallengeName); name != "" {
		return &Result{Challenge: &Challenge{
			Name:       name,
			Session:    aws.StringValue(out.Session),
			Parameters: aws.StringValueMap(out.ChallengeParameters),
		}}, nil
	}
	if out.AuthenticationResult == nil {
		return nil, fmt.Errorf("initiate auth: %w", errors.New("no authentication result"))
	}
	ar := out.AuthenticationResult
	return &Result{Tokens: &Tokens{
		AccessToken:  aws.StringValue(ar.AccessToken),
		IDToken:      aws.StringValue(ar.IdToken),
		RefreshToken: aws.StringValue(ar.RefreshToken),
		ExpiresIn:    aws.Int64Value(ar.ExpiresIn),
	}}, nil
}

func (c *Cognito) SignUp(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	_, err := c.api.SignUpWithContext(ctx, &cognitoidentityprovider.SignUpInput{
		ClientId: aws.String(c.clientID),
		Username: aws.String(email),
		Password: aws.String(password),
		UserAttributes: []*cognitoidentityprovider.AttributeType{
			{Name: aws.String("email"), Value: aws.String(email)},
		},
	})
	if err != nil {
		return classify("sign up", err)
	}
	return nil
}

func (c *Cognito) ConfirmSignUp(ctx context.Context, email, code string) error {
	_, err := c.api.ConfirmSignUpWithContext(ctx, &cognitoidentityprovider.ConfirmSignUpInput{
		ClientId:           aws.String(c.clientID),
		Username:           aws.String(strings.TrimSpace(email)),
		ConfirmationCode:   aws.String(strings.TrimSpace(code)),
		ForceAliasCreation: aws.Bool(true),
	})
	if err != nil {
		return classify("confirm sign up", err)
	}
	return nil
}

func (c *Cognito) CurrentUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrBadToken
	}
	out, err := c.api.GetUserWithContext(ctx, &cognitoidentityprovider.GetUserInput{
		AccessToken: aws.String(accessToken),
	})
	if err != nil {
		return nil, classify("get user", err)
	}
	u := &User{
		Username:   aws.StringValue(out.Username),
		Attributes: make(map[string]string, len(out.UserAttributes)),
	}
	for _, a := range out.UserAttributes {
		u.Attributes[aws.StringValue(a.Name)] = aws.StringValue(a.Value)
	}
	return u, nil
}

func (c *Cognito) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	_, err := c.api.GlobalSignOutWithContext(ctx, &cognitoidentityprovider.GlobalSignOutInput{
		AccessToken: aws.String(accessToken),
	})
	if err != nil {
		return classify("global sign out", err)
	}
	return nil
}

func classify(op string, err error) error {
	if awsutil.IsNetworkError(err) {
		return apperr.Wrap(apperr.KindNetwork, "Network error. Please try again.", fmt.Errorf("cognito %s: %w", op, err))
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case cognitoidentityprovider.ErrCodeNotAuthorizedException:
			if op == "get user" || op == "global sign out" {
				return fmt.Errorf("%w: %w", ErrBadToken, err)
			}
			return fmt.Errorf("%w: %w", apperr.ErrAuthFailed, err)
		case cognitoidentityprovider.ErrCodeUserNotFoundException:
			return fmt.Errorf("%w: %w", apperr.ErrAuthFailed, err)
		case cognitoidentityprovider.ErrCodeUserNotConfirmedException:
			return fmt.Errorf("%w: %w", ErrNotConfirmed, err)
		case cognitoidentityprovider.ErrCodeUsernameExistsException:
			return fmt.Errorf("%w: %w", ErrUserExists, err)
		case cognitoidentityprovider.ErrCodeCodeMismatchException, cognitoidentityprovider.ErrCodeExpiredCodeException:
			return fmt.Errorf("%w: %w", ErrInvalidCode, err)
		case cognitoidentityprovider.ErrCodeInvalidPasswordException, cognitoidentityprovider.ErrCodeInvalidParameterException:
			return apperr.Wrap(apperr.KindValidation, aerr.Message(), err)
		}
	}
	return fmt.Errorf("cognito %s: %w", op, err)
}
