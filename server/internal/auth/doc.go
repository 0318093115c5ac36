// Package auth enforces API-key authentication on both transports.
//
// APIKeyInterceptor guards the gRPC check service; Middleware guards the REST
// API. Both read the key from the same configured header and both pass every
// call through when mode is not "apikey" or no key is configured.
package auth
