package main

import (
	"fmt"
	"geoip-api/internal/config"
	"net"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oschwald/geoip2-golang"
	"github.com/spf13/pflag"
)

// 文档注释：查看查询库元数据并抽查地址
// 背景：排查“刷新成功但结果不对”时直接读取磁盘上的文件，不经过服务进程；
// 未指定 --db 时使用配置中的数据库路径。
func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := pflag.StringP("config", "c", os.Getenv("GEOIP_CONFIG"), "YAML 配置文件路径（可选）")
	dbPath := pflag.String("db", "", "mmdb 文件路径")
	locale := pflag.String("locale", "en", "名称语言")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: geoip-inspect [--db file.mmdb] [ip ...]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	path := *dbPath
	if path == "" {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		path = cfg.DatabasePath
	}
	fi, err := os.Stat(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	r, err := geoip2.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer r.Close()

	md := r.Metadata()
	built := time.Unix(int64(md.BuildEpoch), 0).UTC()
	fmt.Printf("file:       %s (%s, modified %s)\n", path, humanize.Bytes(uint64(fi.Size())), humanize.Time(fi.ModTime()))
	fmt.Printf("type:       %s\n", md.DatabaseType)
	fmt.Printf("built:      %s (%s)\n", built.Format(time.RFC3339), humanize.Time(built))
	fmt.Printf("ip version: %d\n", md.IPVersion)
	fmt.Printf("nodes:      %s\n", humanize.Comma(int64(md.NodeCount)))
	fmt.Printf("languages:  %s\n", strings.Join(md.Languages, ", "))

	code := 0
	for _, arg := range pflag.Args() {
		ip := net.ParseIP(strings.TrimSpace(arg))
		if ip == nil {
			fmt.Printf("\n%s: invalid address\n", arg)
			code = 1
			continue
		}
		fmt.Printf("\n%s\n", arg)
		if strings.Contains(md.DatabaseType, "ASN") {
			a, err := r.ASN(ip)
			if err != nil {
				fmt.Printf("  error: %v\n", err)
				code = 1
				continue
			}
			fmt.Printf("  asn:  AS%d %s\n", a.AutonomousSystemNumber, a.AutonomousSystemOrganization)
			continue
		}
		c, err := r.City(ip)
		if err != nil {
			fmt.Printf("  error: %v\n", err)
			code = 1
			continue
		}
		fmt.Printf("  city:      %s\n", name(c.City.Names, *locale))
		fmt.Printf("  country:   %s (%s)\n", name(c.Country.Names, *locale), c.Country.IsoCode)
		fmt.Printf("  continent: %s\n", name(c.Continent.Names, *locale))
		fmt.Printf("  location:  %.4f, %.4f %s\n", c.Location.Latitude, c.Location.Longitude, c.Location.TimeZone)
		fmt.Printf("  postal:    %s\n", c.Postal.Code)
	}
	return code
}

func name(names map[string]string, locale string) string {
	if v, ok := names[locale]; ok {
		return v
	}
	if v, ok := names["en"]; ok {
		return v
	}
	return "-"
}
