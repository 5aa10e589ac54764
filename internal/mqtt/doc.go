// Package mqtt publishes SEL's mood telemetry to Home Assistant over
// MQTT. SEL appears as a native HA device with availability tracking
// and a handful of sensors: active conversations, turns and tokens
// today, the current mood, the last turn time, version and uptime.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each sensor entity and a birth message ("online") to the
// availability topic. A will message moves the availability topic to
// "offline" on unexpected disconnects.
package mqtt
