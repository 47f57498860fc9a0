package mocks

//go:generate mockgen -source=../session.go -destination=mock_reader.go -package=mocks
