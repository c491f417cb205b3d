// Package glacier implements vaultstore.Store on Amazon S3 Glacier using the AWS SDK.
package glacier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/glacier"
	"github.com/aws/aws-sdk-go-v2/service/glacier/types"
	"github.com/aws/smithy-go"

	"github.com/deicer-io/deicer/internal/vaultstore"
)

// Config configures a Glacier store.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1"). Defaults to us-east-1.
	Region string

	// Endpoint overrides the service endpoint URL. Empty uses the AWS default.
	Endpoint string

	// AccessKeyID, SecretAccessKey and SessionToken are static credentials.
	// If AccessKeyID is empty the SDK's default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// AccountID is the owning account. "-" means the credentials' account.
	AccountID string

	// MaxAttempts bounds the SDK's own retries of throttled or 5xx
	// requests. Zero keeps the SDK default.
	MaxAttempts int
}

// API is the subset of the Glacier client used by Store.
type API interface {
	glacier.ListVaultsAPIClient
	glacier.ListJobsAPIClient
	InitiateJob(ctx context.Context, params *glacier.InitiateJobInput, optFns ...func(*glacier.Options)) (*glacier.InitiateJobOutput, error)
	DescribeJob(ctx context.Context, params *glacier.DescribeJobInput, optFns ...func(*glacier.Options)) (*glacier.DescribeJobOutput, error)
	GetJobOutput(ctx context.Context, params *glacier.GetJobOutputInput, optFns ...func(*glacier.Options)) (*glacier.GetJobOutputOutput, error)
	DeleteArchive(ctx context.Context, params *glacier.DeleteArchiveInput, optFns ...func(*glacier.Options)) (*glacier.DeleteArchiveOutput, error)
	DeleteVault(ctx context.Context, params *glacier.DeleteVaultInput, optFns ...func(*glacier.Options)) (*glacier.DeleteVaultOutput, error)
}

// Store implements vaultstore.Store using the Glacier API.
type Store struct {
	client    API
	accountID string
}

// New creates a Store with a client built from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	if cfg.MaxAttempts > 0 {
		opts = append(opts, config.WithRetryMaxAttempts(cfg.MaxAttempts))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("glacier: failed to load AWS config: %w", err)
	}

	var clientOpts []func(*glacier.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *glacier.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewFromClient(glacier.NewFromConfig(awsCfg, clientOpts...), cfg.AccountID), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client API, accountID string) *Store {
	if accountID == "" {
		accountID = "-"
	}
	return &Store{client: client, accountID: accountID}
}

// ListVaults returns every vault in the account, following pagination markers.
func (s *Store) ListVaults(ctx context.Context) ([]vaultstore.VaultInfo, error) {
	var out []vaultstore.VaultInfo

	p := glacier.NewListVaultsPaginator(s.client, &glacier.ListVaultsInput{
		AccountId: aws.String(s.accountID),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, wrapError("ListVaults", "", err)
		}
		for _, v := range page.VaultList {
			out = append(out, vaultstore.VaultInfo{
				Name:             aws.ToString(v.VaultName),
				NumberOfArchives: v.NumberOfArchives,
				SizeBytes:        v.SizeInBytes,
				CreatedAt:        parseTime(v.CreationDate),
			})
		}
	}
	return out, nil
}

// InitiateJob submits a job and returns its id. Inventories are requested in JSON.
func (s *Store) InitiateJob(ctx context.Context, vault string, kind vaultstore.JobKind) (string, error) {
	params := &types.JobParameters{Type: aws.String(kind.String())}
	switch kind {
	case vaultstore.JobKindInventory:
		params.Format = aws.String("JSON")
	case vaultstore.JobKindArchive:
		return "", &vaultstore.OpError{Op: "InitiateJob", Vault: vault, Err: fmt.Errorf("%w: archive retrieval needs an archive id", vaultstore.ErrInvalidRequest)}
	default:
		return "", &vaultstore.OpError{Op: "InitiateJob", Vault: vault, Err: fmt.Errorf("%w: %v", vaultstore.ErrInvalidRequest, kind)}
	}

	resp, err := s.client.InitiateJob(ctx, &glacier.InitiateJobInput{
		AccountId:     aws.String(s.accountID),
		VaultName:     aws.String(vault),
		JobParameters: params,
	})
	if err != nil {
		return "", wrapError("InitiateJob", vault, err)
	}
	id := aws.ToString(resp.JobId)
	if id == "" {
		return "", &vaultstore.OpError{Op: "InitiateJob", Vault: vault, Err: errors.New("service returned an empty job id")}
	}
	return id, nil
}

// ListJobs returns the vault's jobs matching filter. Job kinds the tool does
// not model (such as select jobs) are skipped.
func (s *Store) ListJobs(ctx context.Context, vault string, filter vaultstore.JobFilter) ([]vaultstore.JobDescription, error) {
	input := &glacier.ListJobsInput{
		AccountId: aws.String(s.accountID),
		VaultName: aws.String(vault),
	}
	switch filter {
	case vaultstore.JobFilterAll:
	case vaultstore.JobFilterInProgress:
		input.Statuscode = aws.String(string(types.StatusCodeInProgress))
	case vaultstore.JobFilterCompleted:
		input.Completed = aws.String("true")
	case vaultstore.JobFilterSucceeded:
		input.Statuscode = aws.String(string(types.StatusCodeSucceeded))
	case vaultstore.JobFilterFailed:
		input.Statuscode = aws.String(string(types.StatusCodeFailed))
	default:
		return nil, &vaultstore.OpError{Op: "ListJobs", Vault: vault, Err: fmt.Errorf("%w: %v", vaultstore.ErrInvalidRequest, filter)}
	}

	var out []vaultstore.JobDescription
	p := glacier.NewListJobsPaginator(s.client, input)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, wrapError("ListJobs", vault, err)
		}
		for _, j := range page.JobList {
			kind, err := vaultstore.ParseJobKind(string(j.Action))
			if err != nil {
				continue
			}
			out = append(out, vaultstore.JobDescription{
				ID:        aws.ToString(j.JobId),
				Vault:     vault,
				Kind:      kind,
				Status:    jobStatus(j.StatusCode),
				Message:   aws.ToString(j.StatusMessage),
				CreatedAt: parseTime(j.CreationDate),
			})
		}
	}
	return out, nil
}

// DescribeJob returns the current state of a job.
func (s *Store) DescribeJob(ctx context.Context, vault, jobID string) (vaultstore.JobDescription, error) {
	resp, err := s.client.DescribeJob(ctx, &glacier.DescribeJobInput{
		AccountId: aws.String(s.accountID),
		VaultName: aws.String(vault),
		JobId:     aws.String(jobID),
	})
	if err != nil {
		return vaultstore.JobDescription{}, wrapError("DescribeJob", vault, err)
	}

	desc := vaultstore.JobDescription{
		ID:        jobID,
		Vault:     vault,
		Status:    jobStatus(resp.StatusCode),
		Message:   aws.ToString(resp.StatusMessage),
		CreatedAt: parseTime(resp.CreationDate),
	}
	if kind, err := vaultstore.ParseJobKind(string(resp.Action)); err == nil {
		desc.Kind = kind
	}
	// Completed is authoritative; StatusCode may lag on freshly finished jobs.
	if resp.Completed && desc.Status == vaultstore.JobInProgress {
		desc.Status = vaultstore.JobSucceeded
	}
	return desc, nil
}

// GetJobOutput reads the full output of a completed job.
func (s *Store) GetJobOutput(ctx context.Context, vault, jobID string) ([]byte, error) {
	resp, err := s.client.GetJobOutput(ctx, &glacier.GetJobOutputInput{
		AccountId: aws.String(s.accountID),
		VaultName: aws.String(vault),
		JobId:     aws.String(jobID),
	})
	if err != nil {
		return nil, wrapError("GetJobOutput", vault, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &vaultstore.OpError{Op: "GetJobOutput", Vault: vault, Err: fmt.Errorf("read body: %w", err)}
	}
	return data, nil
}

// DeleteArchive removes an archive from a vault.
func (s *Store) DeleteArchive(ctx context.Context, vault, archiveID string) error {
	_, err := s.client.DeleteArchive(ctx, &glacier.DeleteArchiveInput{
		AccountId: aws.String(s.accountID),
		VaultName: aws.String(vault),
		ArchiveId: aws.String(archiveID),
	})
	if err != nil {
		return wrapError("DeleteArchive", vault, err)
	}
	return nil
}

// DeleteVault removes an empty vault.
func (s *Store) DeleteVault(ctx context.Context, vault string) error {
	_, err := s.client.DeleteVault(ctx, &glacier.DeleteVaultInput{
		AccountId: aws.String(s.accountID),
		VaultName: aws.String(vault),
	})
	if err != nil {
		return wrapError("DeleteVault", vault, err)
	}
	return nil
}

// wrapError translates SDK errors into vaultstore sentinels.
func wrapError(op, vault string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ResourceNotFoundException":
			return &vaultstore.OpError{Op: op, Vault: vault, Err: fmt.Errorf("%w: %s", vaultstore.ErrNotFound, apiErr.ErrorMessage())}
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidSignatureException", "ExpiredTokenException", "MissingAuthenticationTokenException":
			return &vaultstore.OpError{Op: op, Vault: vault, Err: fmt.Errorf("%w: %s", vaultstore.ErrAccessDenied, apiErr.ErrorMessage())}
		case "ThrottlingException", "LimitExceededException", "RequestTimeoutException", "ServiceUnavailableException":
			return &vaultstore.OpError{Op: op, Vault: vault, Err: fmt.Errorf("%w: %s", vaultstore.ErrThrottled, apiErr.ErrorMessage())}
		case "InvalidParameterValueException":
			if isNotEmptyMessage(apiErr.ErrorMessage()) {
				return &vaultstore.OpError{Op: op, Vault: vault, Err: fmt.Errorf("%w: %s", vaultstore.ErrVaultNotEmpty, apiErr.ErrorMessage())}
			}
			return &vaultstore.OpError{Op: op, Vault: vault, Err: fmt.Errorf("%w: %s", vaultstore.ErrInvalidRequest, apiErr.ErrorMessage())}
		case "MissingParameterValueException", "PolicyEnforcedException", "InsufficientCapacityException":
			return &vaultstore.OpError{Op: op, Vault: vault, Err: fmt.Errorf("%w: %s", vaultstore.ErrInvalidRequest, apiErr.ErrorMessage())}
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return &vaultstore.OpError{Op: op, Vault: vault, Err: vaultstore.ErrNotFound}
		case http.StatusForbidden, http.StatusUnauthorized:
			return &vaultstore.OpError{Op: op, Vault: vault, Err: vaultstore.ErrAccessDenied}
		case http.StatusTooManyRequests:
			return &vaultstore.OpError{Op: op, Vault: vault, Err: vaultstore.ErrThrottled}
		}
	}

	return &vaultstore.OpError{Op: op, Vault: vault, Err: err}
}

// isNotEmptyMessage matches the service's "Vault not empty or recently
// written to" rejection of DeleteVault.
func isNotEmptyMessage(msg string) bool {
	return strings.Contains(strings.ToLower(msg), "not empty")
}

func jobStatus(code types.StatusCode) vaultstore.JobStatus {
	switch code {
	case types.StatusCodeSucceeded:
		return vaultstore.JobSucceeded
	case types.StatusCodeFailed:
		return vaultstore.JobFailed
	default:
		return vaultstore.JobInProgress
	}
}

func parseTime(s *string) time.Time {
	if s == nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

var _ vaultstore.Store = (*Store)(nil)
