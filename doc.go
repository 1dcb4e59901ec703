// Package authz logs users in with GitHub (OAuth2 Authorization Code flow with
// PKCE) and assigns application roles from GitHub organization membership,
// team membership or explicit username lists.
//
// Service is the entry point for hosts that manage auth configs and role
// definitions themselves. Handler wraps it for standalone HTTP servers,
// keeping the login session in an encrypted cookie.
//
//	svc, err := authz.NewService(authz.ServiceConfig{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer svc.Close(ctx)
//
//	authURL, session, err := svc.BuildAuthorizationRequest(ctx, authCfg, callbackURL)
//	// redirect to authURL, keep session until the callback ...
//
//	token, err := svc.ExchangeToken(ctx, authCfg, code, &session, state)
//	result, err := svc.Authenticate(ctx, authCfg, token, roles)
package authz
