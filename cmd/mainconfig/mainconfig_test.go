package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/sophie-assistant/internal/config"
)

func TestLoadAWSConfigEndpointOverride(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "eu-west-3",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "test",
		AWSEndpointOverride: "http://localhost:4566",
	}

	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-3", awsCfg.Region)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)

	endpoint, err := awsCfg.EndpointResolverWithOptions.ResolveEndpoint(sqs.ServiceID, "eu-west-3")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", endpoint.URL)

	_, err = awsCfg.EndpointResolverWithOptions.ResolveEndpoint(bedrockruntime.ServiceID, "eu-west-3")
	var notFound *aws.EndpointNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
