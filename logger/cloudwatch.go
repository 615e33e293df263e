package logger

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// cloudWatchAPI is the subset of *cloudwatch.Client used here.
type cloudWatchAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
	PutDashboard(ctx context.Context, in *cloudwatch.PutDashboardInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutDashboardOutput, error)
}

// maxDatumsPerPut is the PutMetricData per-request limit.
const maxDatumsPerPut = 1000

var cw = struct {
	sync.RWMutex
	client    cloudWatchAPI
	namespace string
	dashboard string
}{namespace: "ScalpFlow", dashboard: "ScalpFlow"}

// InitCloudWatch initialises the CloudWatch client. An empty region falls back
// to AWS_REGION. Failures leave metric publishing disabled.
func InitCloudWatch(region, namespace, dashboard string) {
	log := GetLogger().WithComponent("cloudwatch")

	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	setCloudWatch(cloudwatch.NewFromConfig(awsCfg), namespace, dashboard)
	log.WithFields(Fields{"region": region, "namespace": cwNamespace()}).Info("initialized CloudWatch client")

	CreateDefaultDashboard(ctx)
}

func setCloudWatch(client cloudWatchAPI, namespace, dashboard string) {
	cw.Lock()
	defer cw.Unlock()
	cw.client = client
	if namespace != "" {
		cw.namespace = namespace
	}
	if dashboard != "" {
		cw.dashboard = dashboard
	}
}

func cwNamespace() string {
	cw.RLock()
	defer cw.RUnlock()
	return cw.namespace
}

// publishMetrics sends data in batches. It is a no-op until InitCloudWatch
// succeeds.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	cw.RLock()
	client, namespace := cw.client, cw.namespace
	cw.RUnlock()
	if client == nil || len(data) == 0 {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	for start := 0; start < len(data); start += maxDatumsPerPut {
		end := start + maxDatumsPerPut
		if end > len(data) {
			end = len(data)
		}
		batch := data[start:end]
		if _, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(namespace),
			MetricData: batch,
		}); err != nil {
			log.WithError(err).Warn("failed to publish CloudWatch metrics")
			return
		}

		names := make([]string, 0, len(batch))
		for _, datum := range batch {
			if datum.MetricName != nil {
				names = append(names, *datum.MetricName)
			}
		}
		log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
	}
}

type dashboardWidget struct {
	Type       string           `json:"type"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Properties widgetProperties `json:"properties"`
}

type widgetProperties struct {
	Metrics [][]string `json:"metrics"`
	Period  int        `json:"period"`
	Stat    string     `json:"stat"`
	Title   string     `json:"title"`
}

func metricWidget(namespace, title, stat string, names ...string) dashboardWidget {
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		rows = append(rows, []string{namespace, n})
	}
	return dashboardWidget{
		Type:   "metric",
		Width:  12,
		Height: 6,
		Properties: widgetProperties{
			Metrics: rows,
			Period:  60,
			Stat:    stat,
			Title:   title,
		},
	}
}

func dashboardBody(namespace string) (string, error) {
	body, err := json.Marshal(struct {
		Widgets []dashboardWidget `json:"widgets"`
	}{
		Widgets: []dashboardWidget{
			metricWidget(namespace, "ScalpFlow Engine", "Sum", "Evaluations", "SignalChanges", "TicksApplied", "JournalWrites"),
			metricWidget(namespace, "ScalpFlow Host", "Average", "CPUPercent", "MemoryMB"),
		},
	})
	return string(body), err
}

// CreateDefaultDashboard puts a dashboard with the engine and host widgets.
func CreateDefaultDashboard(ctx context.Context) {
	cw.RLock()
	client, namespace, name := cw.client, cw.namespace, cw.dashboard
	cw.RUnlock()
	if client == nil {
		return
	}
	log := GetLogger().WithComponent("cloudwatch")

	body, err := dashboardBody(namespace)
	if err != nil {
		log.WithError(err).Warn("failed to encode CloudWatch dashboard")
		return
	}
	if _, err := client.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(name),
		DashboardBody: aws.String(body),
	}); err != nil {
		log.WithError(err).Warn("failed to create CloudWatch dashboard")
	}
}
