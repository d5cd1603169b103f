// Package config loads the imagedrop-server configuration.
//
// Config fields (under the `server:` key):
//   - HTTPPort        port for the upload/admin API (default 5000, env PORT)
//   - GRPCPort        token-guarded gRPC health listener (default 50051, 0 = off)
//   - TrustProxy      trust one reverse proxy hop for the client address
//   - MaxUploadBytes  request body cap for /upload (default 0 = unlimited)
//   - UploadDir       upload root (env UPLOAD_FOLDER)
//   - LogDir          directory for server.log (env LOG_FOLDER)
//   - Tokens.File     bearer token file (env TOKEN_FILE_PATH)
//   - Tokens.Watch    reload the token file when it changes (default true)
//   - Admin.MasterTokenEnv  env var holding the master token (default MASTER_TOKEN)
//
// Load(path) applies defaults, then the YAML file if path is non-empty, then
// environment overrides, then validates.
package config
