package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"artifact-go/internal/config"
	"artifact-go/internal/logging"
	"artifact-go/internal/storage"
)

const timeLayout = "2006-01-02 15:04:05"

func main() {
	// 简单命令行参数解析
	if len(os.Args) < 2 {
		fmt.Println("使用方法:")
		fmt.Println("  ./admin list [prefix] [limit] - 按路径前缀列出目录中的制品")
		fmt.Println("  ./admin show <artifact_path> - 显示制品的目录记录和文件状态")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(os.Getenv("ARTIFACT_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}
	logging.New(config.LogConfig{Level: "warn", Format: "console"}, cfg.AppName)

	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("无法连接数据库")
	}
	repo := storage.NewGormArtifactRepository(db)

	// 执行指定的命令
	switch os.Args[1] {
	case "list":
		prefix := ""
		if len(os.Args) > 2 {
			prefix = os.Args[2]
		}
		limit := 100
		if len(os.Args) > 3 {
			limit, err = strconv.Atoi(os.Args[3])
			if err != nil || limit <= 0 {
				log.Fatal().Str("limit", os.Args[3]).Msg("无效的数量")
			}
		}
		listArtifacts(repo, prefix, limit)

	case "show":
		if len(os.Args) < 3 {
			log.Fatal().Msg("需要指定 artifact_path")
		}
		nfs, err := storage.NewNFSStorage(cfg.Storage)
		if err != nil {
			log.Fatal().Err(err).Msg("无法初始化 NFS 存储")
		}
		showArtifact(repo, nfs, os.Args[2])

	default:
		log.Fatal().Str("command", os.Args[1]).Msg("未知命令")
	}
}

func listArtifacts(repo storage.ArtifactRepository, prefix string, limit int) {
	artifacts, err := repo.List(context.Background(), prefix, limit, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("获取制品列表失败")
	}

	fmt.Printf("前缀 %q 下的制品 (%d 个):\n", prefix, len(artifacts))
	fmt.Println("--------------------------------------")
	for i, a := range artifacts {
		fmt.Printf("#%d %s  大小: %d  摘要: %s  存储时间: %s\n",
			i+1, a.Path, a.Size, a.Digest, a.StoredAt.Format(timeLayout))
	}
}

func showArtifact(repo storage.ArtifactRepository, nfs *storage.NFSStorage, artifactPath string) {
	relPath, _, err := nfs.Resolve(artifactPath)
	if err != nil {
		log.Fatal().Err(err).Msg("无效的制品路径")
	}

	fmt.Printf("制品 %s 信息:\n", relPath)
	fmt.Println("--------------------------------------")

	artifact, err := repo.GetByPath(context.Background(), relPath)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		fmt.Println("目录中没有记录")
	case err != nil:
		log.Fatal().Err(err).Msg("查询目录失败")
	default:
		fmt.Printf("文件名: %s\n", artifact.FileName)
		fmt.Printf("大小: %d\n", artifact.Size)
		fmt.Printf("摘要 (BLAKE2b-256): %s\n", artifact.Digest)
		fmt.Printf("存储时间: %s\n", artifact.StoredAt.Format(timeLayout))
		fmt.Printf("请求ID: %s\n", artifact.RequestID)
	}

	// 对比存储上的实际文件
	res, err := nfs.Stat(relPath)
	if err != nil {
		fmt.Printf("存储上的文件: 不可用 (%v)\n", err)
		return
	}
	fmt.Printf("存储上的文件: %s (%d 字节, 修改时间 %s)\n", res.AbsolutePath, res.Size, res.ModTime.Format(timeLayout))
}
