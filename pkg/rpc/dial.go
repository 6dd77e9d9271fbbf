package rpc

import (
	"crypto/tls"
	"crypto/x509"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cloudomate/objectio/pkg/common"
)

// TLSMaterial bundles the certificate and CA a daemon needs for mTLS.
// Every inter-daemon connection in the cluster (gateway -> OSD, gateway ->
// metadata service, block gateway -> OSD) uses the same shape, mirroring
// the single connectWithMTLS helper the CLI/worker/manager connections
// share upstream.
type TLSMaterial struct {
	Cert   tls.Certificate
	CACert *x509.Certificate
}

// DialOptions returns the grpc.DialOption set every client in this repo
// should use: the JSON codec registered in codec.go, plus either mTLS
// transport credentials (when tlsMaterial is non-nil) or insecure transport
// credentials for local/test deployments that don't run with TLS enabled.
func DialOptions(tlsMaterial *TLSMaterial) []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}
	if tlsMaterial == nil {
		return append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	pool := x509.NewCertPool()
	pool.AddCert(tlsMaterial.CACert)
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{tlsMaterial.Cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}
	return append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
}

// Dial opens a client connection to addr using DialOptions' transport
// setup. Callers needing non-default dial options (keepalive, interceptors)
// should build on DialOptions directly rather than this convenience
// wrapper.
func Dial(addr string, tlsMaterial *TLSMaterial) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, DialOptions(tlsMaterial)...)
	if err != nil {
		return nil, common.Wrap(common.KindUnavailable, err, "dial %s", addr)
	}
	return conn, nil
}

// ServerOptions returns the grpc.ServerOption set every daemon's listener
// should use: mTLS credentials requiring a verified client certificate when
// tlsMaterial is supplied, or nil otherwise. No codec option is needed; the
// server picks the JSON codec registered in codec.go from each call's
// content-subtype.
func ServerOptions(tlsMaterial *TLSMaterial, clientCAs *x509.CertPool) []grpc.ServerOption {
	if tlsMaterial == nil {
		return nil
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{tlsMaterial.Cert},
		ClientCAs:    clientCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}
	return []grpc.ServerOption{grpc.Creds(credentials.NewTLS(tlsConfig))}
}
