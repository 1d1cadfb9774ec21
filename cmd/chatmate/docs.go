package main

// General API documentation for swaggo.
//
// @title           chatmate API
// @version         1.0
// @description     HTTP surface of a local LLM chat session: status, messages, load, stop and events.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
