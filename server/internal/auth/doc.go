// Package auth guards the gRPC signal receiver.
//
// APIKeyInterceptor(mode, header, keys...) checks the API key carried in
// the named metadata header against every accepted key. With mode other
// than "apikey" or no keys, every call passes, which suits local
// development. Health checks are never blocked.
package auth
