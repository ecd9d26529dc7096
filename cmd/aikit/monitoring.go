package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/aistackops/aikit/pkg/logging"
)

// MonitoringManager provisions the CloudWatch alarms and dashboard of
// a stack. Every resource is named <stack>-..., which is what cleanup
// discovery keys on.
type MonitoringManager struct {
	cw     CloudWatchAPI
	logger *logging.Logger
}

func NewMonitoringManager(cw CloudWatchAPI, logger *logging.Logger) *MonitoringManager {
	return &MonitoringManager{cw: cw, logger: logger}
}

// Provision creates a CPU alarm, a status check alarm, and an
// overview dashboard for the instance.
func (m *MonitoringManager) Provision(ctx context.Context, stackName, instanceID, region string) error {
	if stackName == "" {
		return &MissingParameterError{Parameter: "stackName"}
	}
	if instanceID == "" {
		return &MissingParameterError{Parameter: "instanceID"}
	}

	dimensions := []cwtypes.Dimension{{
		Name:  aws.String("InstanceId"),
		Value: aws.String(instanceID),
	}}

	if _, err := m.cw.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(stackName + "-cpu-high"),
		AlarmDescription:   aws.String(fmt.Sprintf("CPU above 90%% on %s", instanceID)),
		Namespace:          aws.String("AWS/EC2"),
		MetricName:         aws.String("CPUUtilization"),
		Statistic:          cwtypes.StatisticAverage,
		Dimensions:         dimensions,
		Period:             aws.Int32(300),
		EvaluationPeriods:  aws.Int32(2),
		Threshold:          aws.Float64(90),
		ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanThreshold,
		TreatMissingData:   aws.String("notBreaching"),
	}); err != nil {
		return &ProviderAPIError{Op: "PutMetricAlarm", Err: err}
	}

	if _, err := m.cw.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(stackName + "-status-check"),
		AlarmDescription:   aws.String(fmt.Sprintf("Status check failed on %s", instanceID)),
		Namespace:          aws.String("AWS/EC2"),
		MetricName:         aws.String("StatusCheckFailed"),
		Statistic:          cwtypes.StatisticMaximum,
		Dimensions:         dimensions,
		Period:             aws.Int32(60),
		EvaluationPeriods:  aws.Int32(2),
		Threshold:          aws.Float64(1),
		ComparisonOperator: cwtypes.ComparisonOperatorGreaterThanOrEqualToThreshold,
		TreatMissingData:   aws.String("breaching"),
	}); err != nil {
		return &ProviderAPIError{Op: "PutMetricAlarm", Err: err}
	}

	body, err := dashboardBody(instanceID, region)
	if err != nil {
		return err
	}
	if _, err := m.cw.PutDashboard(ctx, &cloudwatch.PutDashboardInput{
		DashboardName: aws.String(stackName + "-overview"),
		DashboardBody: aws.String(body),
	}); err != nil {
		return &ProviderAPIError{Op: "PutDashboard", Err: err}
	}

	m.logger.Info("monitoring provisioned", "stack", stackName, "instance_id", instanceID)
	return nil
}

func dashboardBody(instanceID, region string) (string, error) {
	metric := func(title string, metrics [][]any) map[string]any {
		return map[string]any{
			"type":   "metric",
			"width":  12,
			"height": 6,
			"properties": map[string]any{
				"title":   title,
				"region":  region,
				"stat":    "Average",
				"period":  300,
				"metrics": metrics,
			},
		}
	}

	body := map[string]any{
		"widgets": []map[string]any{
			metric("CPU", [][]any{{"AWS/EC2", "CPUUtilization", "InstanceId", instanceID}}),
			metric("Network", [][]any{
				{"AWS/EC2", "NetworkIn", "InstanceId", instanceID},
				{"AWS/EC2", "NetworkOut", "InstanceId", instanceID},
			}),
			metric("Status checks", [][]any{{"AWS/EC2", "StatusCheckFailed", "InstanceId", instanceID}}),
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("building dashboard body: %w", err)
	}
	return string(raw), nil
}
