// @title           Vetric API
// @version         1.0
// @description     Account API of the Vetric site. Sign in to obtain a session handle and send it as a Bearer token.
// @BasePath        /api/v1
// @securityDefinitions.apikey BearerToken
// @in              header
// @name            Authorization
// @description     Type "Bearer" followed by a space and the session handle returned by login or register.
package api
