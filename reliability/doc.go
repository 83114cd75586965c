// Package reliability decides what happens to a message whose handler failed.
//
// A RetryPolicy says whether an attempt may be retried and after how long.
// The FailureHandler tracks attempts per message, applies the policy and,
// once retries are exhausted or the failure is permanent, hands the message
// to the DeadLetterRouter. Without a router exhausted messages are logged
// and dropped.
package reliability
