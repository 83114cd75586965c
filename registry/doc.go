// Package registry compiles a type catalog into the artifacts the consumer
// runtime reads: controller_map.json, routes.json and consumer_config.json.
//
// Every catalog type that passes the white and black lists and implements
// contracts.Consumer contributes one consumer_config entry per Listen*/Handle*
// method. Per-method overrides come from contracts.Configurable.
package registry
