package meta

import "fmt"

// Well-known paths. The layout mirrors the broker side: brokers register
// under /brokers/ids, topics and their partition state live under
// /brokers/topics, and the controller claims /controller while bumping
// /controller_epoch.
const (
	BrokerIdsPath       = "/brokers/ids"
	TopicsPath          = "/brokers/topics"
	ControllerPath      = "/controller"
	ControllerEpochPath = "/controller_epoch"
)

func TopicPath(topic string) string {
	return fmt.Sprintf("%s/%s", TopicsPath, topic)
}

func TopicPartitionsPath(topic string) string {
	return fmt.Sprintf("%s/%s/partitions", TopicsPath, topic)
}

func PartitionStatePath(topic string, partition int32) string {
	return fmt.Sprintf("%s/%s/partitions/%d/state", TopicsPath, topic, partition)
}

func BrokerIDPath(id int32) string {
	return fmt.Sprintf("%s/%d", BrokerIdsPath, id)
}
