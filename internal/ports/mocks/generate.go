//go:generate mockgen -source=../session.go     -destination=./mock_session.go     -package=mocks
//go:generate mockgen -source=../validator.go   -destination=./mock_validator.go   -package=mocks
//go:generate mockgen -source=../logger.go      -destination=./mock_logger.go      -package=mocks
//go:generate mockgen -source=../item_reader.go -destination=./mock_item_reader.go -package=mocks
//go:generate mockgen -source=../item_writer.go -destination=./mock_item_writer.go -package=mocks
//go:generate mockgen -source=../job.go         -destination=./mock_job.go         -package=mocks

package mocks
