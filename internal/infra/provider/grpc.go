package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vietddude/failover/internal/core/domain"
)

// GRPCProvider calls a unary generation method whose request and response
// are google.protobuf.Struct, so no generated client is required.
type GRPCProvider struct {
	name   string
	method string
	apiKey string
	caps   domain.Capabilities
	conn   grpc.ClientConnInterface
	closer func() error
}

// NewGRPCProvider creates a gRPC provider for endpoint. The connection is
// established lazily on the first call.
func NewGRPCProvider(name, endpoint, method, apiKey string, caps domain.Capabilities) (*GRPCProvider, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	p := NewGRPCProviderWithConn(name, method, apiKey, caps, conn)
	p.closer = conn.Close
	return p, nil
}

// NewGRPCProviderWithConn creates a provider over an existing connection.
func NewGRPCProviderWithConn(
	name, method, apiKey string,
	caps domain.Capabilities,
	conn grpc.ClientConnInterface,
) *GRPCProvider {
	return &GRPCProvider{
		name:   name,
		method: method,
		apiKey: apiKey,
		caps:   caps,
		conn:   conn,
	}
}

// Name returns the provider name.
func (p *GRPCProvider) Name() string { return p.name }

// Capabilities returns the configured capabilities.
func (p *GRPCProvider) Capabilities() domain.Capabilities { return p.caps }

// Close releases the connection if this provider owns it.
func (p *GRPCProvider) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// GenerateVideo invokes the configured method.
func (p *GRPCProvider) GenerateVideo(
	ctx context.Context,
	script string,
	opts domain.VideoOptions,
) (*domain.VideoResult, error) {
	optsMap, err := toMap(opts)
	if err != nil {
		return nil, &Error{Provider: p.name, ErrCode: CodeInvalidParameters, Message: "encode options", Err: err}
	}

	req, err := structpb.NewStruct(map[string]any{
		"script":  script,
		"options": optsMap,
	})
	if err != nil {
		return nil, &Error{Provider: p.name, ErrCode: CodeInvalidParameters, Message: "build request", Err: err}
	}

	if p.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+p.apiKey)
	}

	resp := &structpb.Struct{}
	if err := p.conn.Invoke(ctx, p.method, req, resp); err != nil {
		return nil, p.mapError(err)
	}

	var result domain.VideoResult
	raw, err := resp.MarshalJSON()
	if err == nil {
		err = json.Unmarshal(raw, &result)
	}
	if err != nil {
		return nil, &Error{Provider: p.name, ErrCode: CodeProcessing, Message: "decode response", Err: err}
	}
	if result.VideoURL == "" {
		return nil, NewError(p.name, CodeProcessing, "response has no video url")
	}
	result.ProviderID = p.name

	return &result, nil
}

var grpcCodeMap = map[codes.Code]struct {
	code   ErrorCode
	status int
}{
	codes.ResourceExhausted:  {CodeRateLimitExceeded, 429},
	codes.DeadlineExceeded:   {CodeTimeout, 504},
	codes.Unauthenticated:    {CodeAuthentication, 401},
	codes.PermissionDenied:   {CodeAuthentication, 403},
	codes.Unavailable:        {CodeProviderUnavailable, 503},
	codes.InvalidArgument:    {CodeInvalidParameters, 400},
	codes.OutOfRange:         {CodeInvalidParameters, 400},
	codes.Unimplemented:      {CodeUnsupportedFeature, 501},
	codes.FailedPrecondition: {CodeQuotaExceeded, 0},
	codes.Internal:           {CodeProcessing, 500},
	codes.Unknown:            {CodeProcessing, 500},
	codes.DataLoss:           {CodeProcessing, 500},
	codes.Aborted:            {CodeProcessing, 502},
}

// mapError converts a gRPC status into *Error. An ErrorInfo reason that is a
// known provider code overrides the mapping; RetryInfo sets RetryAfter.
func (p *GRPCProvider) mapError(err error) *Error {
	st, ok := status.FromError(err)
	if !ok {
		return &Error{Provider: p.name, ErrCode: CodeNetwork, Message: err.Error(), Err: err}
	}

	perr := &Error{Provider: p.name, ErrCode: CodeProcessing, Message: st.Message(), Err: err}
	if m, ok := grpcCodeMap[st.Code()]; ok {
		perr.ErrCode = m.code
		perr.Status = m.status
	}
	if st.Code() == codes.Canceled {
		perr.ErrCode = CodeNetwork
		perr.Err = fmt.Errorf("%w: %v", context.Canceled, err)
	}

	for _, d := range st.Details() {
		switch info := d.(type) {
		case *errdetails.RetryInfo:
			perr.RetryAfter = info.GetRetryDelay().AsDuration()
		case *errdetails.ErrorInfo:
			if isKnownCode(info.GetReason()) {
				perr.ErrCode = ErrorCode(info.GetReason())
			}
		}
	}
	return perr
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
