package logger

const (
	ActionServiceStarted   = "service_started"
	ActionGracefulShutdown = "graceful_shutdown"
	ActionServiceFailed    = "service_failed"
	ActionRequestReceived  = "request_received"
	ActionResponseFailed   = "response_failed"
	ActionConfigLoaded     = "config_loaded"

	ActionDBConnected     = "db_connected"
	ActionDBConnectFailed = "db_connect_failed"
	ActionDBMigrated      = "db_migrated"
	ActionStoreOpened     = "store_opened"

	ActionOrderCreated          = "order_created"
	ActionValidationFailed      = "validation_failed"
	ActionTransitionApplied     = "transition_applied"
	ActionTransitionRejected    = "transition_rejected"
	ActionTransitionConflict    = "transition_conflict"
	ActionTransitionRetried     = "transition_retried"
	ActionCountsRecomputed      = "counts_recomputed"
	ActionCountsDriftDetected   = "counts_drift_detected"
	ActionEventPublishFailed    = "event_publish_failed"
	ActionSubscriberJoined      = "subscriber_joined"
	ActionSubscriberLeft        = "subscriber_left"
	ActionSubscriberSlow        = "subscriber_slow"
	ActionWebsocketFailed       = "websocket_failed"
	ActionDashboardResynced     = "dashboard_resynced"
	ActionDashboardEventApplied = "dashboard_event_applied"

	ActionRabbitMQConnected      = "rabbitmq_connected"
	ActionRabbitMQConnectFailed  = "rabbitmq_connect_failed"
	ActionRabbitMQConnectionLost = "rabbitmq_connection_lost"
	ActionRabbitMQSetupComplete  = "rabbitmq_setup_complete"
	ActionRabbitMQConsumeStarted = "rabbitmq_consume_started"
	ActionRabbitMQPublishFailed  = "rabbitmq_publish_failed"
	ActionRelayMessageDropped    = "relay_message_dropped"
)
